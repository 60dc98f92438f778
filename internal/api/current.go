package api

import (
	"time"

	"github.com/footron/controller/internal/controller"
	"github.com/footron/controller/internal/messaging"
	"github.com/footron/controller/internal/types"
)

// currentView mirrors the exact GET /current response shape resolved from
// the original implementation's datetime_to_timestamp encoding (spec §6,
// SPEC_FULL.md §3.1): omitted optional fields are genuinely absent from the
// JSON, not null, so every optional field below carries `omitempty`.
type currentView struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	Artist          string              `json:"artist,omitempty"`
	Description     string              `json:"description,omitempty"`
	Lifetime        int                 `json:"lifetime"`
	LastUpdate      int64               `json:"last_update"`
	Unlisted        bool                `json:"unlisted"`
	Queueable       bool                `json:"queueable"`
	Folders         []string            `json:"folders,omitempty"`
	Tags            []string            `json:"tags,omitempty"`
	Collection      string              `json:"collection,omitempty"`
	EndTime         *int64              `json:"end_time,omitempty"`
	StartTime       *int64              `json:"start_time,omitempty"`
	LastInteraction *int64              `json:"last_interaction,omitempty"`
	LastLockUpdate  *int64              `json:"last_lock_update,omitempty"`
	Lock            messaging.LockValue `json:"lock"`
	Scrubbing       bool                `json:"scrubbing,omitempty"`
}

// encodeCurrent builds the GET /current payload. snap is nil when nothing
// is current; the caller writes a literal `{}` in that case rather than a
// currentView with every field zeroed (spec §6: "`{}` if none").
func encodeCurrent(snap *controller.CurrentSnapshot) *currentView {
	if snap == nil {
		return nil
	}
	exp := snap.Experience
	v := currentView{
		ID:          exp.ID,
		Title:       exp.Title,
		Artist:      exp.Artist,
		Description: exp.Description,
		Lifetime:    exp.Lifetime,
		LastUpdate:  snap.CatalogVersion,
		Unlisted:    exp.Unlisted,
		Queueable:   exp.Queueable,
		Folders:     exp.Folders,
		Tags:        exp.Tags,
		Collection:  exp.Collection,
		Lock:        messaging.LockValue(snap.Lock.Status),
		Scrubbing:   exp.Kind == types.KindVideo && exp.Scrubbing,
		StartTime:   millis(&snap.StartTime),
	}
	v.EndTime = millis(snap.EndTime)
	v.LastInteraction = millis(snap.LastInteraction)
	v.LastLockUpdate = millis(snap.Lock.LastUpdate)
	return &v
}

func millis(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
