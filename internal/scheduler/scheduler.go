package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footron/controller/internal/config"
)

const commercialsCollection = "commercials"

type playlistItem struct {
	experienceID string
	sub          *Deck[string] // non-nil for a sub-playlist slot
}

// Scheduler is the independent playlist/commercial rotation loop of spec
// §4.3 ("timer"). All mutable state (the decks, last-commercial timestamp,
// last-known catalog version) is folded into this value instead of
// module-level globals (spec §9: "Module-level mutable _current,
// _last_commercial_at ... Fold into a Scheduler value passed to each
// tick").
type Scheduler struct {
	client *Client
	cfg    config.SchedulerConfig
	rng    *rand.Rand

	playlist    *Deck[playlistItem]
	commercials *Deck[string]

	lastCommercialAt time.Time
	lastKnownUpdate  int64
}

// New builds a Scheduler with empty decks; lastKnownUpdate starts at -1, a
// value no catalog reports, so the first Tick always rebuilds them.
func New(client *Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		client:          client,
		cfg:             cfg,
		lastKnownUpdate: -1,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		playlist:        NewDeck[playlistItem](nil, rand.New(rand.NewSource(1))),
		commercials:     NewDeck[string](nil, rand.New(rand.NewSource(1))),
	}
}

// Run ticks once per TickIntervalSeconds until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.TickIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				log.Warn().Err(err).Msg("scheduler: tick failed")
			}
		}
	}
}

// Tick runs one iteration of spec §4.3's three steps: observe, decide,
// advance.
func (s *Scheduler) Tick(ctx context.Context) error {
	cur, err := s.client.GetCurrent(ctx)
	if err != nil {
		return err
	}

	if cur.LastUpdate != s.lastKnownUpdate {
		if err := s.rebuild(ctx); err != nil {
			return err
		}
		s.lastKnownUpdate = cur.LastUpdate
	}

	if !s.shouldAdvance(cur, time.Now()) {
		return nil
	}

	next, ok := s.nextID()
	if !ok {
		log.Debug().Msg("scheduler: no experiences available to advance to")
		return nil
	}

	err = s.client.SetCurrent(ctx, next, time.Duration(s.cfg.CurrentExperienceSetDelaySeconds)*time.Second)
	if errors.Is(err, ErrThrottled) {
		log.Debug().Str("experience_id", next).Msg("scheduler: PUT /current throttled, retrying next tick")
		return nil
	}
	return err
}

// shouldAdvance implements spec §4.3 step 2 and §8's advance-rule
// invariants. Every signal is read straight from the current tick's GET
// /current response; no scheduler-side memory of prior lock state is
// needed because the Controller already stamps last_lock_update on every
// toggle (spec §9 open question: lock.status==false with
// last_lock_update==nil falls through to the lifetime/end_time rules).
func (s *Scheduler) shouldAdvance(cur CurrentView, now time.Time) bool {
	if !cur.Current() {
		return true
	}

	locked := cur.Lock.Status().Truthy()
	if locked && cur.LastLockUpdate != nil {
		return false
	}
	if !locked && cur.LastLockUpdate != nil {
		return true
	}

	if cur.EndTime != nil {
		return now.UnixMilli() > *cur.EndTime
	}

	interactionTimeout := time.Duration(s.cfg.InteractionTimeoutSeconds) * time.Second
	if cur.LastInteraction != nil && now.Sub(time.UnixMilli(*cur.LastInteraction)) < interactionTimeout {
		return false
	}

	if cur.StartTime != nil {
		age := now.Sub(time.UnixMilli(*cur.StartTime))
		if age < time.Duration(cur.Lifetime)*time.Second {
			return false
		}
	}

	return true
}

// nextID pops a commercial if the interval has elapsed and the commercial
// deck isn't empty, otherwise pops from the main playlist, stepping into a
// sub-playlist slot if that's what was drawn (spec §4.3).
func (s *Scheduler) nextID() (string, bool) {
	interval := time.Duration(s.cfg.CommercialIntervalSeconds) * time.Second
	if !s.commercials.Empty() && time.Since(s.lastCommercialAt) >= interval {
		if id, ok := s.commercials.Pop(); ok {
			s.lastCommercialAt = time.Now()
			return id, true
		}
	}

	item, ok := s.playlist.Pop()
	if !ok {
		return "", false
	}
	if item.sub != nil {
		return item.sub.Pop()
	}
	return item.experienceID, true
}

// rebuild reloads the catalog and reshuffles both decks from scratch
// (spec §4.3: triggered whenever GET /current's last_update changes).
// Experiences in the "commercials" collection go to the commercial deck;
// every other queueable, non-unlisted experience either becomes a
// top-level playlist slot (no collection) or is grouped into a
// per-collection sub-playlist that itself gets one top-level slot.
func (s *Scheduler) rebuild(ctx context.Context) error {
	experiences, err := s.client.GetExperiences(ctx)
	if err != nil {
		return err
	}

	var commercialIDs []string
	byCollection := map[string][]string{}
	var loose []playlistItem

	for id, exp := range experiences {
		if exp.Unlisted || !exp.Queueable {
			continue
		}
		if exp.Collection == commercialsCollection {
			commercialIDs = append(commercialIDs, id)
			continue
		}
		if exp.Collection == "" {
			loose = append(loose, playlistItem{experienceID: id})
			continue
		}
		byCollection[exp.Collection] = append(byCollection[exp.Collection], id)
	}

	items := loose
	for _, ids := range byCollection {
		items = append(items, playlistItem{sub: NewDeck(ids, rand.New(rand.NewSource(s.rng.Int63())))})
	}

	s.playlist = NewDeck(items, rand.New(rand.NewSource(s.rng.Int63())))
	s.commercials = NewDeck(commercialIDs, rand.New(rand.NewSource(s.rng.Int63())))

	log.Info().Int("playlist_slots", len(items)).Int("commercials", len(commercialIDs)).Msg("scheduler: rebuilt playlist from catalog")
	return nil
}
