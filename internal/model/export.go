package model

import "time"

// BankExport is the top-level JSON structure for a question bank dump.
type BankExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	Count      int            `json:"count"`
	ByType     map[string]int `json:"by_type"`
	Questions  []Question     `json:"questions"`
}

// PoolReport describes how well a bank covers one quota.
type PoolReport struct {
	Quota     Quota `json:"quota"`
	Available int   `json:"available"`
	OK        bool  `json:"ok"`
}

// BankInfo describes the most recent bank import.
type BankInfo struct {
	Source     string    `json:"source"`
	Count      int       `json:"count"`
	ImportedAt time.Time `json:"imported_at"`
}

// Pools counts the questions eligible for each quota of b.
func (b Blueprint) Pools(questions []Question) []PoolReport {
	reports := make([]PoolReport, 0, len(b.Quotas))
	for _, qt := range b.Quotas {
		n := 0
		for _, q := range questions {
			if qt.Matches(q) {
				n++
			}
		}
		reports = append(reports, PoolReport{Quota: qt, Available: n, OK: n >= qt.Count})
	}
	return reports
}

// Satisfied reports whether every quota in reports is covered.
func Satisfied(reports []PoolReport) bool {
	for _, r := range reports {
		if !r.OK {
			return false
		}
	}
	return true
}
