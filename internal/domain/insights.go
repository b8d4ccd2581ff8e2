package domain

// PageType classifies how a blogger's account presents itself.
type PageType string

// Page type values.
const (
	PageBlog     PageType = "blog"
	PagePublic   PageType = "public"
	PageBusiness PageType = "business"
)

// EngagementQuality rates how organic the audience looks.
type EngagementQuality string

// Engagement quality values.
const (
	EngagementOrganic    EngagementQuality = "organic"
	EngagementMixed      EngagementQuality = "mixed"
	EngagementSuspicious EngagementQuality = "suspicious"
)

// BloggerProfile is the AIInsights.blogger_profile nested object.
type BloggerProfile struct {
	Profession      string   `json:"profession"`
	City            string   `json:"city"`
	Country         string   `json:"country"`
	PageType        PageType `json:"page_type"`
	SpeaksLanguages []string `json:"speaks_languages"`
	HasManager      bool     `json:"has_manager"`
	ManagerContact  string   `json:"manager_contact"`
}

// Content is the AIInsights.content nested object.
type Content struct {
	PrimaryCategories []string `json:"primary_categories"`
	SecondaryTopics   []string `json:"secondary_topics"`
	ContentLanguage   string   `json:"content_language"`
	ContentTone       string   `json:"content_tone"`
	ContentQuality    string   `json:"content_quality"`
}

// Lifestyle is the AIInsights.lifestyle nested object.
type Lifestyle struct {
	LifestyleLevel string `json:"lifestyle_level"`
	Description    string `json:"description"`
}

// AudienceInference is the AIInsights.audience_inference nested object.
type AudienceInference struct {
	EngagementQuality  EngagementQuality `json:"engagement_quality"`
	AudienceInterests  []string          `json:"audience_interests"`
}

// MarketingValue is the AIInsights.marketing_value nested object.
type MarketingValue struct {
	BrandSafetyScore   int      `json:"brand_safety_score"`
	BestFitIndustries  []string `json:"best_fit_industries"`
	NotSuitableFor     []string `json:"not_suitable_for"`
	CollaborationRisk  string   `json:"collaboration_risk"`
}

// Commercial is the AIInsights.commercial nested object.
type Commercial struct {
	AmbassadorBrands       []string `json:"ambassador_brands"`
	DetectedBrandCategories []string `json:"detected_brand_categories"`
	AdFrequency            string   `json:"ad_frequency"`
}

// AIInsights is the structured object produced by the AI provider for one
// blog (spec §4.5). Unknown fields are rejected at the schema boundary by
// the decoder that parses provider output (see internal/batch).
type AIInsights struct {
	ShortLabel   string   `json:"short_label"`
	ShortSummary string   `json:"short_summary"`
	Tags         []string `json:"tags"`
	Confidence   int      `json:"confidence"`
	Notes        string   `json:"notes"`

	BloggerProfile    BloggerProfile    `json:"blogger_profile"`
	Content           Content           `json:"content"`
	LifeSituation     string            `json:"life_situation"`
	Lifestyle         Lifestyle         `json:"lifestyle"`
	AudienceInference AudienceInference `json:"audience_inference"`
	MarketingValue    MarketingValue    `json:"marketing_value"`
	Commercial        Commercial        `json:"commercial"`

	// RefusalReason is not part of the provider schema; it is set locally
	// when reconciling a refusal result so the reason is retrievable from
	// the stored ai_insights bag (spec §4.4 reconcile/Refusal).
	RefusalReason string `json:"refusal_reason,omitempty"`
}

// ValidConfidence reports whether c is one of the fixed ordinal ratings.
func ValidConfidence(c int) bool { return c >= 1 && c <= 5 }
