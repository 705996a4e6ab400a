package pulse

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maestro-run/maestro/internal/logging"
	"github.com/maestro-run/maestro/internal/state"
)

// Syncer runs the periodic pulse pass: escalate stale decisions, then
// re-render the pulse document. It never changes task status.
type Syncer struct {
	store     *state.Store
	pulsePath string
	log       *logging.Logger
	cfg       Config
}

func NewSyncer(store *state.Store, pulsePath string, log *logging.Logger, cfg Config) *Syncer {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Syncer{store: store, pulsePath: pulsePath, log: log.WithPhase("sync"), cfg: cfg}
}

// Sync escalates overdue decisions and writes the pulse document.
// Returns how many decisions were newly escalated. Running it again
// immediately rewrites the pulse file with identical content.
func (s *Syncer) Sync(now time.Time) (int, error) {
	escalated, err := s.escalate(now)
	if err != nil {
		return 0, err
	}
	if err := s.WritePulse(now); err != nil {
		return escalated, err
	}
	return escalated, nil
}

func (s *Syncer) escalate(now time.Time) (int, error) {
	// Peek first: an idle sync pass must not touch the document at all,
	// a version bump with no content change would mask real stagnation.
	doc, err := s.store.Load()
	if err != nil {
		return 0, err
	}
	if countOverdue(doc, now, s.cfg.DecisionEscalation) == 0 {
		return 0, nil
	}

	escalated := 0
	err = s.store.Update(func(d *state.Document) error {
		escalated = 0
		for i := range d.PendingDecisions {
			dec := &d.PendingDecisions[i]
			if dec.Escalated || now.Sub(dec.CreatedAt) < s.cfg.DecisionEscalation {
				continue
			}
			dec.Escalated = true
			escalated++
			s.log.Warn("decision escalated", "decision", dec.ID,
				"age", now.Sub(dec.CreatedAt).Round(time.Minute).String())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return escalated, nil
}

func countOverdue(doc *state.Document, now time.Time, threshold time.Duration) int {
	n := 0
	for _, dec := range doc.PendingDecisions {
		if !dec.Escalated && now.Sub(dec.CreatedAt) >= threshold {
			n++
		}
	}
	return n
}

// WritePulse renders the current state into the pulse file. The write
// goes through a temp file so watchers never see a torn document.
func (s *Syncer) WritePulse(now time.Time) error {
	doc, err := s.store.Load()
	if err != nil {
		return err
	}
	out := Render(Build(doc, now, s.cfg))

	dir := filepath.Dir(s.pulsePath)
	tmp, err := os.CreateTemp(dir, ".pulse-*")
	if err != nil {
		return fmt.Errorf("writing pulse: %w", err)
	}
	if _, err := tmp.WriteString(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pulse: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pulse: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.pulsePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pulse: %w", err)
	}
	return nil
}
