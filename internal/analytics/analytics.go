package analytics

import (
	"time"

	"github.com/cannies936/Level-Cannies/internal/modules/audit"
)

type Service struct {
	audit *audit.Logger
}

func New(auditLogger *audit.Logger) *Service {
	return &Service{audit: auditLogger}
}

type Report struct {
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

func (s *Service) Report(guildID string, since time.Time) Report {
	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, entry := range s.audit.Recent(guildID, since) {
		report.Total++
		report.ByLevel[entry.Level]++
		report.ByEvent[entry.Event]++
	}
	return report
}
