package session

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/viewsync/pkg/config"
	"github.com/sidkik/viewsync/pkg/errors"
)

// maxConcurrentActions bounds the number of agent commands run at once by
// Reconcile.
const maxConcurrentActions = 8

// Match is a session that corresponds to an expected view.
type Match struct {
	View    config.View
	Session *Session
}

// Partition sorts views and sessions by whether they have a counterpart.
// Views and sessions are matched by view id. If several sessions exist for
// the same view, only the first one is matched. A view listed more than once
// is only reported missing once.
func Partition(expected []config.View, actual []*Session) (
	missing []config.View, matched []Match, unexpected []*Session) {

	byViewID := map[string]config.View{}
	for _, view := range expected {
		if _, ok := byViewID[view.ID]; !ok {
			byViewID[view.ID] = view
		}
	}

	found := map[string]bool{}
	for _, s := range actual {
		view, ok := byViewID[s.ViewID]
		if !ok || found[s.ViewID] {
			unexpected = append(unexpected, s)
			continue
		}
		found[s.ViewID] = true
		matched = append(matched, Match{View: view, Session: s})
	}

	for _, view := range expected {
		if !found[view.ID] {
			found[view.ID] = true
			missing = append(missing, view)
		}
	}
	return missing, matched, unexpected
}

// Reconcile makes the agent's sessions match the expected views: missing
// sessions are created, existing ones are resumed (or recreated if they're
// stale), and sessions for views that aren't expected are terminated. It
// returns the sessions of the expected views. Failures for individual views
// are logged, and those views are left out of the result.
func Reconcile(ctx context.Context, log logrus.FieldLogger, c *Configurator,
	expected []config.View) ([]*Session, error) {

	actual, err := List(ctx, c.Env(), c.Filter())
	if err != nil {
		return nil, errors.WithContext(err, "list")
	}

	missing, matched, unexpected := Partition(expected, actual)
	log.WithFields(logrus.Fields{
		"missing":    len(missing),
		"matched":    len(matched),
		"unexpected": len(unexpected),
	}).Info("Reconciling sessions")

	// Sessions are terminated by name, and duplicates share their name with
	// another session.
	terminating := map[string]bool{}
	for _, m := range matched {
		terminating[m.Session.Name] = true
	}

	var terminations errgroup.Group
	terminations.SetLimit(maxConcurrentActions)
	for _, s := range unexpected {
		s := s
		if terminating[s.Name] {
			log.WithField("session", s.Name).WithField("path", s.Path).Warn(
				"Skipping duplicate session")
			s.Close()
			continue
		}
		terminating[s.Name] = true

		terminations.Go(func() error {
			if err := s.Terminate(ctx); err != nil {
				log.WithError(err).WithField("session", s.Name).Warn("Failed to terminate unexpected session")
			}
			return nil
		})
	}

	results := make([]*Session, len(matched)+len(missing))
	var group errgroup.Group
	group.SetLimit(maxConcurrentActions)
	for i, m := range matched {
		i, m := i, m
		group.Go(func() error {
			results[i] = restore(ctx, log, c, m)
			return nil
		})
	}
	for i, view := range missing {
		i, view := i, view
		group.Go(func() error {
			s, err := c.ConfigureAndStart(ctx, view.ID, view.Path)
			if err != nil {
				log.WithError(err).WithField("view", view.ID).Warn("Failed to create session")
				return nil
			}
			results[len(matched)+i] = s
			return nil
		})
	}

	group.Wait()
	terminations.Wait()

	sessions := make([]*Session, 0, len(results))
	for _, s := range results {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

// restore resumes a matched session, or replaces it if it's stale. It
// returns nil if the session couldn't be brought back.
func restore(ctx context.Context, log logrus.FieldLogger, c *Configurator, m Match) *Session {
	log = log.WithField("session", m.Session.Name)

	if !m.Session.IsStale() {
		if err := m.Session.Resume(ctx); err != nil {
			log.WithError(err).Warn("Failed to resume session")
			m.Session.Close()
			return nil
		}
		return m.Session
	}

	log.Info("Replacing stale session")
	if err := m.Session.Terminate(ctx); err != nil {
		log.WithError(err).Warn("Failed to terminate stale session")
		return nil
	}

	s, err := c.ConfigureAndStart(ctx, m.View.ID, m.View.Path)
	if err != nil {
		log.WithError(err).Warn("Failed to recreate stale session")
		return nil
	}
	return s
}
