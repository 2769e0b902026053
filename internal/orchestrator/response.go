package orchestrator

import (
	"strings"

	"github.com/loykin/playwatch/internal/process"
	"github.com/loykin/playwatch/internal/store"
)

type State string

const (
	StateStarted State = "started"
	StateStopped State = "stopped"
)

// IntervalResponse is the notification delivered to listeners on every
// tracked-game transition. AppID, Source and Name are nil when stopped.
type IntervalResponse struct {
	State  State   `json:"state"`
	AppID  *string `json:"appId"`
	Source *string `json:"source"`
	Name   *string `json:"name"`
}

// Started builds a started response. Empty fields become nil.
func Started(appID, source, name string) IntervalResponse {
	return IntervalResponse{State: StateStarted, AppID: ptr(appID), Source: ptr(source), Name: ptr(name)}
}

func Stopped() IntervalResponse { return IntervalResponse{State: StateStopped} }

// Build describes rec. A catalog match supplies app id, source and name; the
// process name is used when there is no match or the match has no name.
func Build(rec process.Record, g store.Game, matched bool) IntervalResponse {
	if !matched {
		return Started("", "", rec.Name)
	}
	name := g.Name
	if strings.TrimSpace(name) == "" {
		name = rec.Name
	}
	return Started(g.AppID, g.Source, name)
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
