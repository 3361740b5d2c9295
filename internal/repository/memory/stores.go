package memory

import "github.com/noah-isme/sma-behavior-api/internal/repository"

// NewStores returns empty in-memory stores; seed loads the demo directory.
func NewStores(seed bool) repository.Stores {
	directory := NewDirectory()
	if seed {
		SeedDemo(directory)
	}
	return repository.Stores{
		Incidents:       NewIncidentStore(),
		Cases:           NewCaseStore(),
		Acknowledgments: NewAcknowledgmentStore(),
		Notifications:   NewNotificationStore(),
		Directory:       directory,
	}
}
