package policy

import "time"

// DefaultDocument returns the built-in rule set a fresh deployment ships
// with, matching the regulatory baseline this core has always enforced:
// position/sector concentration limits, suitability (FINRA 2111), the wash
// sale rule, pattern day trading, market manipulation, and penny stock
// disclosure.
func DefaultDocument(version string) Document {
	t := func(s string) string {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			panic(err)
		}
		return parsed.UTC().Format(time.RFC3339)
	}

	return Document{
		Version: version,
		Rules: map[string]RuleDoc{
			"CONC-001": {
				RuleID:           "CONC-001",
				RegulationSource: "SEC",
				RuleName:         "Position Concentration Limit",
				Description:      "Individual position should not exceed threshold of portfolio value",
				Severity:         "warning",
				AppliesTo:        []string{"individual", "institutional"},
				EffectiveDate:    t("2000-01-01T00:00:00Z"),
				Params:           map[string]any{"max_position": 0.25},
			},
			"CONC-002": {
				RuleID:           "CONC-002",
				RegulationSource: "SEC",
				RuleName:         "Sector Concentration Limit",
				Description:      "Single sector allocation should not exceed threshold of portfolio",
				Severity:         "warning",
				AppliesTo:        []string{"individual", "institutional"},
				EffectiveDate:    t("2000-01-01T00:00:00Z"),
				Params:           map[string]any{"max_sector": 0.40},
			},
			"CONC-003": {
				RuleID:           "CONC-003",
				RegulationSource: "FINRA",
				RuleName:         "Concentrated Position Disclosure",
				Description:      "Must disclose risks for concentrated positions",
				Severity:         "major",
				AppliesTo:        []string{"advisor"},
				EffectiveDate:    t("2012-07-09T00:00:00Z"),
			},
			"SUIT-001": {
				RuleID:           "SUIT-001",
				RegulationSource: "FINRA",
				RuleName:         "Suitability Rule 2111",
				Description:      "Recommendations must be suitable for client based on profile",
				Severity:         "critical",
				AppliesTo:        []string{"advisor"},
				EffectiveDate:    t("2010-07-09T00:00:00Z"),
			},
			"SUIT-002": {
				RuleID:           "SUIT-002",
				RegulationSource: "FINRA",
				RuleName:         "Quantitative Suitability",
				Description:      "Series of transactions must be suitable in aggregate",
				Severity:         "critical",
				AppliesTo:        []string{"advisor"},
				EffectiveDate:    t("2010-07-09T00:00:00Z"),
			},
			"SUIT-003": {
				RuleID:           "SUIT-003",
				RegulationSource: "FINRA",
				RuleName:         "Reasonable Basis",
				Description:      "Advisors must have reasonable basis for recommendations",
				Severity:         "warning",
				AppliesTo:        []string{"advisor"},
				EffectiveDate:    t("2010-07-09T00:00:00Z"),
			},
			"TAX-001": {
				RuleID:           "TAX-001",
				RegulationSource: "IRS",
				RuleName:         "Wash Sale Rule Section 1091",
				Description:      "Cannot claim loss if repurchasing substantially identical security within 30 days",
				Severity:         "warning",
				AppliesTo:        []string{"individual", "institutional"},
				EffectiveDate:    t("1921-01-01T00:00:00Z"),
			},
			"TRAD-001": {
				RuleID:           "TRAD-001",
				RegulationSource: "FINRA",
				RuleName:         "Pattern Day Trader Rule",
				Description:      "Accounts under $25K limited to 3 day trades per 5-day period",
				Severity:         "warning",
				AppliesTo:        []string{"individual"},
				EffectiveDate:    t("2001-02-27T00:00:00Z"),
				Params:           map[string]any{"min_equity": 25000.0},
			},
			"TRAD-002": {
				RuleID:           "TRAD-002",
				RegulationSource: "SEC",
				RuleName:         "Market Manipulation Prevention",
				Description:      "Cannot engage in manipulative or deceptive trading practices",
				Severity:         "critical",
				AppliesTo:        []string{"individual", "advisor"},
				EffectiveDate:    t("1934-06-06T00:00:00Z"),
			},
			"PENNY-001": {
				RuleID:           "PENNY-001",
				RegulationSource: "SEC",
				RuleName:         "Penny Stock Disclosure",
				Description:      "Trades in penny stocks (< $5) require heightened suitability and disclosure",
				Severity:         "advisory",
				AppliesTo:        []string{"individual", "advisor"},
				EffectiveDate:    t("2001-07-09T00:00:00Z"),
				Params:           map[string]any{"min_price": 5.0},
			},
		},
	}
}
