package filtercache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fedipull/features/blocks"
	blockrepo "fedipull/features/blocks/repository"
	"fedipull/features/rules"
	rulerepo "fedipull/features/rules/repository"
	"fedipull/internal/collector"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Snapshot is the immutable pairing of the blocked-domain set and the
// compiled list definitions the match engine reads. It is replaced
// wholesale on refresh, never mutated, so readers need nothing beyond an
// atomic pointer load.
type Snapshot struct {
	Blocks     blocks.DomainBlockSet
	Lists      []rules.CompiledList
	Generation uint64
	ChangedAt  time.Time
}

// Cache maintains the latest Snapshot. Refreshes may come from the timer
// scheduler and from the notification watcher concurrently; a mutex
// serializes the writers while readers stay lock-free.
type Cache struct {
	ruleRepo  rulerepo.RuleRepository
	blockRepo blockrepo.BlockRepository

	snapshot atomic.Pointer[Snapshot]
	mu       sync.Mutex

	generation atomic.Uint64
	compile    pond.Pool
}

// New creates a Cache over the two store repositories. compileWorkers
// bounds the pool used to compile list regex sets during a reload.
func New(ruleRepo rulerepo.RuleRepository, blockRepo blockrepo.BlockRepository, compileWorkers int) *Cache {
	if compileWorkers < 1 {
		compileWorkers = 1
	}

	c := &Cache{
		ruleRepo:  ruleRepo,
		blockRepo: blockRepo,
		compile:   pond.NewPool(compileWorkers),
	}
	c.snapshot.Store(&Snapshot{Blocks: blocks.DomainBlockSet{}})
	return c
}

// Snapshot returns the current snapshot. Never nil once New has run.
func (c *Cache) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// Generation returns the list-rebuild counter. It only advances when a
// reload actually recompiled the list set, so callers can verify that a
// no-change refresh was skipped.
func (c *Cache) Generation() uint64 {
	return c.generation.Load()
}

// RefreshBlocks reloads the suspended-domain set and swaps in a snapshot
// carrying the new blocks and the current lists. Errors propagate so the
// caller can escalate: a silently stale block set leaks posts from domains
// operators explicitly suspended.
func (c *Cache) RefreshBlocks(ctx context.Context) error {
	domains, err := c.blockRepo.SuspendedDomains(ctx)
	if err != nil {
		return fmt.Errorf("refresh blocks: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.snapshot.Load()
	next := &Snapshot{
		Blocks:     blocks.NewDomainBlockSet(domains),
		Lists:      current.Lists,
		Generation: current.Generation,
		ChangedAt:  current.ChangedAt,
	}
	c.snapshot.Store(next)

	log.Debug().Int("domains", len(next.Blocks)).Msg("Refreshed domain block set")

	if mc, _ := collector.GetMetricsCollector(); mc != nil {
		mc.SetBlockedDomains(len(next.Blocks))
	}

	return nil
}

// RefreshLists reloads the eligible list definitions. It first runs the
// cheap changed-since query and skips the reload when nothing changed, so
// bursts of change notifications collapse into one rebuild. A malformed
// list is skipped and logged; it never fails the whole refresh.
func (c *Cache) RefreshLists(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mark, err := c.ruleRepo.LastChanged(ctx)
	if err != nil {
		return fmt.Errorf("refresh lists: %w", err)
	}

	// Any difference in the mark counts as a change. Deleting or disabling
	// the newest list lowers MAX(updated_at), so a strict ordering here
	// would skip that reload forever.
	current := c.snapshot.Load()
	if current.Generation > 0 && !mark.Changed(current.ChangedAt) {
		log.Trace().Time("changed_at", current.ChangedAt).Msg("List definitions unchanged, skipping reload")
		return nil
	}

	rows, err := c.ruleRepo.EligibleLists(ctx)
	if err != nil {
		return fmt.Errorf("refresh lists: %w", err)
	}

	compiled := c.compileAll(rows)

	next := &Snapshot{
		Blocks:     current.Blocks,
		Lists:      compiled,
		Generation: c.generation.Add(1),
		ChangedAt:  mark.UpdatedAt,
	}
	c.snapshot.Store(next)

	log.Info().
		Int("lists", len(compiled)).
		Int("skipped", len(rows)-len(compiled)).
		Uint64("generation", next.Generation).
		Msg("Refreshed list definitions")

	if mc, _ := collector.GetMetricsCollector(); mc != nil {
		mc.SetListCount(len(compiled))
		mc.SetSnapshotGeneration(next.Generation)
	}

	return nil
}

// compileAll compiles every row on the pond pool. Compilation failures are
// isolated per list.
func (c *Cache) compileAll(rows []rules.ListRow) []rules.CompiledList {
	compiled := make([]*rules.CompiledList, len(rows))

	group := c.compile.NewGroup()
	for i, row := range rows {
		group.Submit(func() {
			list, err := rules.Compile(row)
			if err != nil {
				log.Warn().Err(err).Int64("list_id", row.ID).Msg("Skipping malformed list definition")
				return
			}
			compiled[i] = &list
		})
	}
	group.Wait()

	ok := lo.Filter(compiled, func(l *rules.CompiledList, _ int) bool { return l != nil })
	return lo.Map(ok, func(l *rules.CompiledList, _ int) rules.CompiledList { return *l })
}

// Close releases the compile pool.
func (c *Cache) Close() {
	c.compile.StopAndWait()
}
