package store

import (
	"context"
	"errors"
	"fmt"
)

// SequenceAdvancer is implemented by backends whose sequences can be moved
// past explicitly keyed rows.
type SequenceAdvancer interface {
	AdvanceSequence(ctx context.Context, sequence string, atLeast int64) error
}

// Seed inserts every entity whose key is not stored yet, ignoring global
// filters, in one all-or-nothing save. Sequences are then advanced past the
// seeded keys so generated keys never collide with them. Seeding twice is a
// no-op.
func (s *Store) Seed(ctx context.Context, entities ...any) (int, error) {
	sess := s.Session()
	defer func() { _ = sess.Close() }()

	high := map[string]int64{}
	added := 0
	for _, ent := range entities {
		d, err := s.registry.Describe(ent)
		if err != nil {
			return 0, fmt.Errorf("seed: %w", err)
		}
		key := d.keyValue(func(p *Property) any { return p.get(ent) })
		if isZero(key) {
			return 0, fmt.Errorf("seed %s: %w", d.Kind, NewValidationError(d.Kind, d.Key.Name, key, "seed rows need explicit keys"))
		}
		if d.Sequence != "" {
			if sk, err := d.storageKey(key); err == nil {
				if n, ok := sk.(int64); ok {
					high[d.Sequence] = max(high[d.Sequence], n)
				}
			}
		}
		_, err = sess.Find(ctx, d.Kind, key, BypassFilters(), NoTracking())
		var nf *NotFoundError
		switch {
		case err == nil:
			continue
		case !errors.As(err, &nf):
			return 0, fmt.Errorf("seed %s: %w", d.Kind, err)
		}
		if err := sess.Add(ent); err != nil {
			return 0, fmt.Errorf("seed %s: %w", d.Kind, err)
		}
		added++
	}

	sess.atomic = true
	if _, err := sess.SaveChanges(ctx); err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}

	if adv, ok := s.backend.(SequenceAdvancer); ok {
		for seq, n := range high {
			if err := adv.AdvanceSequence(ctx, seq, n); err != nil {
				return added, fmt.Errorf("seed: %w", err)
			}
		}
	}
	s.log.Info("seeded", "added", added, "skipped", len(entities)-added)
	return added, nil
}
