package sinks

import (
	"strings"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/infrastructure/salesforce"
)

// Registry resolves stream names to sinks. Dedicated sinks match their
// canonical name or any alias case-insensitively; anything else gets a
// schema-driven fallback sink. One sink instance is held per stream.
type Registry struct {
	client *salesforce.Client
	cfg    *bootstrap.Config
	active map[string]Sink
}

// NewRegistry creates a sink registry backed by the given client.
func NewRegistry(client *salesforce.Client, cfg *bootstrap.Config) *Registry {
	return &Registry{
		client: client,
		cfg:    cfg,
		active: make(map[string]Sink),
	}
}

// Get returns the sink for a stream, creating it on first use.
func (r *Registry) Get(stream string) Sink {
	if sink, ok := r.active[stream]; ok {
		return sink
	}
	sink := r.build(stream)
	r.active[stream] = sink
	return sink
}

// Streams returns the streams with an instantiated sink.
func (r *Registry) Streams() []string {
	streams := make([]string, 0, len(r.active))
	for name := range r.active {
		streams = append(streams, name)
	}
	return streams
}

func (r *Registry) build(stream string) Sink {
	candidates := []Sink{
		NewContactsSink(r.client, r.cfg),
		NewDealsSink(r.client, r.cfg),
		NewCompanySink(r.client, r.cfg),
		NewCampaignSink(r.client, r.cfg),
		NewCampaignMemberSink(r.client, r.cfg),
		NewActivitiesSink(r.client, r.cfg),
		NewRecurringDonationsSink(r.client, r.cfg),
	}

	want := strings.ToLower(stream)
	for _, sink := range candidates {
		if strings.ToLower(sink.Name()) == want {
			return sink
		}
		for _, alias := range sink.Aliases() {
			if strings.ToLower(alias) == want {
				return sink
			}
		}
	}
	return NewFallbackSink(r.client, r.cfg, stream)
}
