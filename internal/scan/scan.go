// Package scan finds the target peripheral by its advertised name.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/babymon/internal/device"
	"github.com/srg/babymon/internal/groutine"
)

// ErrEmptyTargetName is returned by Start when no name to match was given.
var ErrEmptyTargetName = errors.New("target name is empty")

// Result is delivered once per scan cycle: either the matched peripheral or the error
// that ended the scan.
type Result struct {
	Peripheral device.Peripheral
	Err        error
}

// cycle is one Start..match/Stop/failure span.
type cycle struct {
	id      uint64
	target  string
	results chan Result
	cancel  context.CancelFunc
	matched bool
	ignored *hashmap.Map[string, struct{}]
	done    sync.Once
}

// Controller runs at most one scan at a time and reports the first advertisement whose
// local name equals the target exactly.
type Controller struct {
	factory device.DriverFactory
	logger  *logrus.Logger

	mu      sync.Mutex
	driver  device.Driver
	current *cycle
	cycles  uint64
}

// NewController creates a scan controller. The driver is created on first use.
func NewController(factory device.DriverFactory, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		factory: factory,
		logger:  logger,
	}
}

// Driver returns the shared driver, creating it if needed. Creation failures are
// reported as device.ErrRadioUnavailable.
func (c *Controller) Driver() (device.Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driverLocked()
}

func (c *Controller) driverLocked() (device.Driver, error) {
	if c.driver != nil {
		return c.driver, nil
	}
	if c.factory == nil {
		return nil, fmt.Errorf("%w: no BLE driver configured", device.ErrRadioUnavailable)
	}
	drv, err := c.factory()
	if err != nil {
		if !errors.Is(err, device.ErrRadioUnavailable) {
			err = fmt.Errorf("%w: %w", device.ErrRadioUnavailable, err)
		}
		return nil, err
	}
	c.driver = drv
	return drv, nil
}

// Scanning reports whether a scan cycle is active.
func (c *Controller) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Start begins scanning for target. The returned channel yields at most one Result and is
// closed when the cycle ends (match, Stop, ctx cancellation or scan failure).
// Calling Start while a cycle is active returns that cycle's channel.
func (c *Controller) Start(ctx context.Context, target string) (<-chan Result, error) {
	if target == "" {
		return nil, ErrEmptyTargetName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		if c.current.target != target {
			c.logger.WithFields(logrus.Fields{
				"active": c.current.target,
				"target": target,
			}).Warn("Scan already running for another target, request ignored")
		}
		return c.current.results, nil
	}

	drv, err := c.driverLocked()
	if err != nil {
		c.logger.WithField("error", err).Error("BLE radio unavailable")
		return nil, err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	c.cycles++
	cy := &cycle{
		id:      c.cycles,
		target:  target,
		results: make(chan Result, 1),
		cancel:  cancel,
		ignored: hashmap.New[string, struct{}](),
	}
	c.current = cy

	c.logger.WithFields(logrus.Fields{
		"cycle":  cy.id,
		"target": target,
	}).Info("Starting BLE scan...")

	groutine.GoSafe(scanCtx, fmt.Sprintf("scan-%d", cy.id), c.logger, func(ctx context.Context) {
		err := drv.Scan(ctx, func(adv device.Advertisement) {
			c.handleAdvertisement(cy, adv)
		})
		c.finish(cy, err)
	}, func(err error) {
		c.finish(cy, err)
	})

	return cy.results, nil
}

// Stop cancels the active cycle. No result is delivered afterwards. Stop while idle is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	cy := c.current
	c.current = nil
	c.mu.Unlock()

	if cy == nil {
		return
	}
	c.logger.WithField("cycle", cy.id).Debug("Stopping BLE scan")
	cy.cancel()
}

func (c *Controller) handleAdvertisement(cy *cycle, adv device.Advertisement) {
	name := adv.LocalName()
	if name != cy.target {
		if _, seen := cy.ignored.GetOrInsert(adv.Addr(), struct{}{}); !seen {
			c.logger.WithFields(logrus.Fields{
				"name":    name,
				"address": adv.Addr(),
				"rssi":    adv.RSSI(),
			}).Debug("Ignoring non-matching advertisement")
		}
		return
	}

	peripheral := device.PeripheralFromAdvertisement(adv)

	c.mu.Lock()
	if c.current != cy || cy.matched {
		c.mu.Unlock()
		return
	}
	cy.matched = true
	c.current = nil
	cy.results <- Result{Peripheral: peripheral}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"cycle":   cy.id,
		"device":  peripheral.Name,
		"address": peripheral.Address,
		"rssi":    adv.RSSI(),
	}).Info("Found target device")
	cy.cancel()
}

// finish ends the cycle exactly once, whether the scan returned or its goroutine panicked.
func (c *Controller) finish(cy *cycle, err error) {
	cy.done.Do(func() { c.finishOnce(cy, err) })
}

func (c *Controller) finishOnce(cy *cycle, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stopped := c.current != cy
	if c.current == cy {
		c.current = nil
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		if !stopped && !cy.matched {
			if !errors.Is(err, device.ErrRadioUnavailable) {
				err = fmt.Errorf("scan failed: %w", err)
			}
			c.logger.WithFields(logrus.Fields{
				"cycle": cy.id,
				"error": err,
			}).Error("BLE scan failed")
			cy.results <- Result{Err: err}
		}
	}

	c.logger.WithFields(logrus.Fields{
		"cycle":   cy.id,
		"matched": cy.matched,
		"ignored": cy.ignored.Len(),
	}).Debug("BLE scan completed")

	cy.cancel()
	close(cy.results)
}
