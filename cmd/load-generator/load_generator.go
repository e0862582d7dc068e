package main

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowlend/lending-coordinator-go/coordinator"
	"github.com/flowlend/lending-coordinator-go/lending"
)

const (
	adminUser = "admin"

	scenarioLending  = 0
	scenarioQueueing = 1
	scenarioApproval = 2

	operationTimeout = 5 * time.Second
	reportInterval   = 10 * time.Second
)

// LoadGenerator drives randomized lending traffic against a Catalog
// at a configured rate, mixing scenarios by weight.
type LoadGenerator struct {
	catalog *coordinator.Catalog
	config  Config

	users   []lending.UserIDString
	itemIDs []lending.ItemIDString

	stopChan chan struct{}
	wg       sync.WaitGroup

	acceptedCount atomic.Int64
	rejectedCount atomic.Int64
	failedCount   atomic.Int64
}

func NewLoadGenerator(catalog *coordinator.Catalog, config Config) *LoadGenerator {
	users := make([]lending.UserIDString, 0, config.Users)
	for i := 1; i <= config.Users; i++ {
		users = append(users, fmt.Sprintf("user-%d", i))
	}

	return &LoadGenerator{
		catalog:  catalog,
		config:   config,
		users:    users,
		stopChan: make(chan struct{}),
	}
}

// Start runs until the context is canceled or Stop is called.
func (lg *LoadGenerator) Start(ctx context.Context) error {
	if err := lg.loadItemIDs(ctx); err != nil {
		return fmt.Errorf("loading item ids: %w", err)
	}

	lg.wg.Add(1)
	go lg.statsReporter(ctx)

	interval := time.Second / time.Duration(lg.config.Rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Generating load at %d req/s (interval: %v) across %d items", lg.config.Rate, interval, len(lg.itemIDs))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lg.stopChan:
			return nil
		case <-ticker.C:
			lg.wg.Add(1)
			go func() {
				defer lg.wg.Done()
				lg.executeScenario(ctx)
			}()
		}
	}
}

// Stop waits for in-flight operations to finish, up to the context deadline.
func (lg *LoadGenerator) Stop(ctx context.Context) error {
	close(lg.stopChan)

	done := make(chan struct{})
	go func() {
		lg.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lg.logStats("final")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err())
	}
}

func (lg *LoadGenerator) loadItemIDs(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	items, err := lg.catalog.ListItems(opCtx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("catalog has no items to exercise")
	}

	lg.itemIDs = make([]lending.ItemIDString, 0, len(items))
	for _, item := range items {
		lg.itemIDs = append(lg.itemIDs, item.ID)
	}

	return nil
}

func (lg *LoadGenerator) executeScenario(ctx context.Context) {
	switch lg.selectScenario() {
	case scenarioLending:
		lg.runLendingScenario(ctx)
	case scenarioQueueing:
		lg.runQueueingScenario(ctx)
	case scenarioApproval:
		lg.runApprovalScenario(ctx)
	}
}

func (lg *LoadGenerator) selectScenario() int {
	roll := rand.IntN(100)

	threshold := 0
	for scenario, weight := range lg.config.ScenarioWeights {
		threshold += weight
		if roll < threshold {
			return scenario
		}
	}

	return scenarioLending
}

// runLendingScenario alternates between direct borrows and returns.
// A borrow against an already lent item enrolls the caller in its
// waiting queue, so contention feeds the queueing paths too.
func (lg *LoadGenerator) runLendingScenario(ctx context.Context) {
	user := lg.randomUser()
	itemID := lg.randomItemID()

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var outcome lending.Outcome
	var err error

	if rand.IntN(2) == 0 {
		outcome, err = lg.catalog.Borrow(opCtx, user, itemID, true)
	} else {
		outcome, err = lg.catalog.Return(opCtx, user, itemID)
	}

	lg.record(outcome, err)
}

func (lg *LoadGenerator) runQueueingScenario(ctx context.Context) {
	user := lg.randomUser()
	itemID := lg.randomItemID()

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var outcome lending.Outcome
	var err error

	if rand.IntN(2) == 0 {
		outcome, err = lg.catalog.JoinQueue(opCtx, user, itemID, true)
	} else {
		outcome, err = lg.catalog.LeaveQueue(opCtx, user, itemID)
	}

	lg.record(outcome, err)
}

// runApprovalScenario files a borrow request and then lets the admin
// decide on the oldest pending request for the same item.
func (lg *LoadGenerator) runApprovalScenario(ctx context.Context) {
	user := lg.randomUser()
	itemID := lg.randomItemID()

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	outcome, err := lg.catalog.RequestBorrow(opCtx, user, itemID, true)
	lg.record(outcome, err)

	pending, err := lg.catalog.PendingRequests(opCtx, itemID)
	if err != nil {
		lg.failedCount.Add(1)
		return
	}
	if len(pending) == 0 {
		return
	}

	head := pending[0].UserID
	if rand.IntN(4) == 0 {
		outcome, err = lg.catalog.RejectRequest(opCtx, adminUser, itemID, head, "load test rejection")
	} else {
		outcome, err = lg.catalog.ApproveRequest(opCtx, adminUser, itemID, head)
	}

	lg.record(outcome, err)
}

func (lg *LoadGenerator) record(outcome lending.Outcome, err error) {
	switch {
	case err != nil:
		lg.failedCount.Add(1)
	case outcome.OK:
		lg.acceptedCount.Add(1)
	default:
		lg.rejectedCount.Add(1)
	}
}

func (lg *LoadGenerator) randomUser() lending.UserIDString {
	return lg.users[rand.IntN(len(lg.users))]
}

func (lg *LoadGenerator) randomItemID() lending.ItemIDString {
	return lg.itemIDs[rand.IntN(len(lg.itemIDs))]
}

func (lg *LoadGenerator) statsReporter(ctx context.Context) {
	defer lg.wg.Done()

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-lg.stopChan:
			return
		case <-ticker.C:
			lg.logStats("interval")
		}
	}
}

func (lg *LoadGenerator) logStats(label string) {
	accepted := lg.acceptedCount.Load()
	rejected := lg.rejectedCount.Load()
	failed := lg.failedCount.Load()

	log.Printf("Stats (%s): accepted=%d rejected=%d failed=%d total=%d",
		label, accepted, rejected, failed, accepted+rejected+failed)
}
