package seed

import "time"

var builtin = []entry{
	{
		ID:       "threat_cyber_001",
		Title:    "Advanced Persistent Threat Targeting Financial Infrastructure",
		Category: "Cyber",
		Severity: 85,
		Summary: "Sophisticated malware campaign targeting banking systems across multiple countries. " +
			"Evidence suggests state-sponsored actors using zero-day exploits.",
		Regions:     []string{"North America", "Europe", "Asia"},
		Sources:     []string{"https://cisa.gov/alerts", "https://cert.org/advisories", "https://us-cert.gov/ncas"},
		Age:         1 * time.Hour,
		Confidence:  88,
		Credible:    24,
		NotCredible: 3,
	},
	{
		ID:          "threat_health_002",
		Title:       "Emerging Antimicrobial Resistance in Southeast Asia",
		Category:    "Health",
		Severity:    72,
		Summary:     "New strain of antibiotic-resistant bacteria spreading rapidly through healthcare facilities across multiple countries.",
		Regions:     []string{"Southeast Asia"},
		Sources:     []string{"https://who.int/emergencies", "https://cdc.gov/drugresistance", "https://ecdc.europa.eu"},
		Age:         2 * time.Hour,
		Confidence:  82,
		Credible:    18,
		NotCredible: 1,
	},
	{
		ID:          "threat_climate_003",
		Title:       "Critical Water Shortage Crisis in Mediterranean Basin",
		Category:    "Climate",
		Severity:    78,
		Summary:     "Unprecedented drought conditions threatening agricultural stability and regional security across Southern Europe.",
		Regions:     []string{"Mediterranean", "Southern Europe"},
		Sources:     []string{"https://climate.ec.europa.eu", "https://ipcc.ch/reports", "https://drought.gov"},
		Age:         3 * time.Hour,
		Confidence:  91,
		Credible:    31,
		NotCredible: 2,
	},
	{
		ID:          "threat_conflict_004",
		Title:       "Escalating Tensions in Eastern European Border Regions",
		Category:    "Conflict",
		Severity:    83,
		Summary:     "Military buildup and diplomatic tensions escalating along contested border areas with potential for wider conflict.",
		Regions:     []string{"Eastern Europe"},
		Sources:     []string{"https://nato.int/cps", "https://sipri.org/databases", "https://crisisgroup.org"},
		Age:         4 * time.Hour,
		Confidence:  76,
		Credible:    28,
		NotCredible: 5,
	},
	{
		ID:          "threat_economic_005",
		Title:       "Cryptocurrency Market Manipulation Threatening Financial Stability",
		Category:    "Economic",
		Severity:    69,
		Summary:     "Large-scale coordinated trading attacks targeting major cryptocurrency exchanges and stablecoins.",
		Regions:     []string{"Global"},
		Sources:     []string{"https://sec.gov/news", "https://bis.org/publ", "https://federalreserve.gov"},
		Age:         5 * time.Hour,
		Confidence:  74,
		Credible:    15,
		NotCredible: 8,
	},
	{
		ID:          "threat_ai_006",
		Title:       "Deepfake Technology Weaponization for Disinformation Campaigns",
		Category:    "AI",
		Severity:    80,
		Summary:     "Advanced AI-generated content being used to spread false information and manipulate public opinion.",
		Regions:     []string{"Global"},
		Sources:     []string{"https://ai.gov/reports", "https://partnership.ai", "https://oecd.org/digital"},
		Age:         6 * time.Hour,
		Confidence:  85,
		Credible:    22,
		NotCredible: 4,
	},
}
