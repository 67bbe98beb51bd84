package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/replicactl/pkg/initiator"
	"github.com/cuemby/replicactl/pkg/log"
	"github.com/cuemby/replicactl/pkg/metrics"
	"github.com/cuemby/replicactl/pkg/retry"
	"github.com/cuemby/replicactl/pkg/rsconfig"
	"github.com/cuemby/replicactl/pkg/types"
)

// Watch-loop period and the bounded windows for the transitional states a
// starting cluster moves through.
const (
	gatherAttempts      = 3
	primaryWaitAttempts = 6
)

// Delays are variables so tests can compress the windows.
var (
	watchInterval    = 10 * time.Second
	gatherDelay      = 10 * time.Second
	primaryWaitDelay = 10 * time.Second
)

// Orchestrator supplies the current task ip snapshot.
type Orchestrator interface {
	ListTaskAddresses(ctx context.Context) ([]types.TaskAddress, error)
}

// Prober classifies member state and locates the writable primary.
type Prober interface {
	GetConfig(ctx context.Context, ip string) types.NodeStatus
	FindPrimary(ctx context.Context, ips []string) (string, int)
	AllUninitialized(ctx context.Context, ips []string) bool
}

// Initiator performs first-time initiation through the in-container shell.
type Initiator interface {
	Run(ctx context.Context, ips []string) error
}

// Applier applies configuration through the authenticated driver.
type Applier interface {
	CurrentConfig(ctx context.Context, ip string) (types.ReplicaSetConfig, error)
	Apply(ctx context.Context, primaryIP string, cfg types.ReplicaSetConfig, force bool) error
}

// Bootstrapper sets up the application database after a fresh initiation.
type Bootstrapper interface {
	Run(ctx context.Context, memberIPs []string) error
}

// Reconciler keeps replica-set membership synchronized with the
// orchestrator's task set. One startup pass classifies the cluster into
// {initiate, reconfigure, no-op} and dispatches; after that the watch loop
// reacts to ip churn every 10 seconds, forever.
//
// The reconciler is the single writer of replica-set configuration and the
// sole owner of the known-membership set, which is updated only after a
// successful initiate, reconfigure, or observation - never speculatively.
type Reconciler struct {
	orch    Orchestrator
	probes  Prober
	init    Initiator
	applier Applier
	users   Bootstrapper

	setName string
	port    int

	phase     types.Phase
	known     []string // sorted member ips last applied or observed
	primaryIP string

	logger zerolog.Logger
}

// New creates a Reconciler. setName and port are needed for the one path
// that cannot read an existing config: forced reconfiguration during
// redeployment of an already-initialized set.
func New(orch Orchestrator, probes Prober, init Initiator, applier Applier, users Bootstrapper, setName string, port int) *Reconciler {
	return &Reconciler{
		orch:    orch,
		probes:  probes,
		init:    init,
		applier: applier,
		users:   users,
		setName: setName,
		port:    port,
		phase:   types.PhaseWaiting,
		logger:  log.WithComponent("reconciler"),
	}
}

// Run performs the startup classification pass and then watches for
// membership changes until ctx is cancelled. It returns early only when the
// cluster cannot be classified or initiated at all; the surrounding
// orchestrator restarts the process in that case.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.reconcile(ctx); err != nil {
		return err
	}
	return r.watch(ctx)
}

// reconcile is the startup pass: snapshot tasks, gather any pre-existing
// configuration, classify, dispatch.
func (r *Reconciler) reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	r.setPhase(types.PhaseClassifying)

	taskIPs, err := r.taskIPs(ctx)
	if err != nil {
		return err
	}
	r.logger.Info().Strs("task_ips", taskIPs).Msg("Current database task ips")

	known := r.gatherConfiguredMembers(ctx, taskIPs)

	var primaryIP string
	switch {
	case len(known) > 0 && !equalSets(known, taskIPs):
		// Existing config but rotated ips: the config's members are gone, so
		// primary detection must run against the live task set.
		r.logger.Info().Msg("Detected redeployment - existing config found but task ips changed")
		primaryIP, _ = r.probes.FindPrimary(ctx, taskIPs)
	case len(known) > 0:
		primaryIP, _ = r.probes.FindPrimary(ctx, known)
	}

	switch {
	case len(known) == 0:
		r.logger.Info().Msg("No previous replica set configuration found - proceeding with fresh initialization")
		if err := r.initiate(ctx, taskIPs); err != nil {
			return err
		}
		r.setKnown(taskIPs)

	case !equalSets(known, taskIPs):
		r.logger.Info().Msg("Redeployment detected - updating configuration immediately")
		r.setPhase(types.PhaseReconfiguring)
		if err := r.updateMembership(ctx, primaryIP, known, taskIPs); err != nil {
			r.logger.Error().Err(err).Msg("Membership update failed, will retry from the watch loop")
		} else {
			r.setKnown(taskIPs)
		}
		primaryIP, _ = r.probes.FindPrimary(ctx, taskIPs)

	default:
		r.logger.Info().Msg("Existing replica set configuration matches current deployment - monitoring for changes")
		r.setKnown(taskIPs)
	}

	r.primaryIP = primaryIP
	return nil
}

// initiate runs the fresh-initiation path, falling back to a forced driver
// reconfiguration when the shell reports the set as already initialized
// (redeployment with pre-existing key material), then bootstraps the
// application database.
func (r *Reconciler) initiate(ctx context.Context, taskIPs []string) error {
	r.setPhase(types.PhaseInitiating)
	metrics.InitiationsTotal.Inc()

	err := r.init.Run(ctx, taskIPs)
	switch {
	case errors.Is(err, initiator.ErrAlreadyInitialized):
		r.setPhase(types.PhaseReconfiguring)
		cfg := rsconfig.Fresh(r.setName, taskIPs, r.port)
		applyErr := r.applier.Apply(ctx, taskIPs[0], cfg, true)
		metrics.ReconfigsTotal.WithLabelValues("true", metrics.Outcome(applyErr)).Inc()
		if applyErr != nil {
			return fmt.Errorf("forced reconfiguration after redeployment: %w", applyErr)
		}
		r.logger.Info().Msg("Redeployment scenario handled")
	case err != nil:
		return fmt.Errorf("initiating replica set: %w", err)
	}

	if err := r.users.Run(ctx, taskIPs); err != nil {
		// The set itself is usable; user bootstrap is not retried.
		r.logger.Error().Err(err).Msg("Initial user setup incomplete")
	}
	return nil
}

// watch is the steady-state loop: every tick, re-snapshot the task ips and
// reconfigure when they drift from the known membership.
func (r *Reconciler) watch(ctx context.Context) error {
	r.setPhase(types.PhaseWatching)
	r.logger.Info().Msg("Watching for member ip changes")

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick performs one watch-loop iteration.
func (r *Reconciler) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	taskIPs, err := r.taskIPs(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Task snapshot failed, skipping tick")
		return
	}

	if !equalSets(r.known, taskIPs) {
		r.logger.Info().
			Strs("known", r.known).
			Strs("current", taskIPs).
			Msg("Detected change in member ips - updating configuration")
		if err := r.updateMembership(ctx, r.primaryIP, r.known, taskIPs); err != nil {
			r.logger.Error().Err(err).Msg("Membership update failed, will retry next tick")
		} else {
			r.setKnown(taskIPs)
		}
	}

	r.primaryIP, _ = r.probes.FindPrimary(ctx, taskIPs)
}

// updateMembership drives the replica set from the current member set to
// the desired one. The primary passed in may be stale or empty; the method
// re-elects or falls back to a deterministic bootstrap target before
// touching the config. The caller updates the known set only when this
// returns nil.
func (r *Reconciler) updateMembership(ctx context.Context, primaryIP string, current, desired []string) error {
	toRemove := subtract(current, desired)
	toAdd := subtract(desired, current)

	if len(toRemove) == 0 && len(toAdd) == 0 {
		// Heartbeat refresh with no membership change: nothing to apply.
		r.logger.Info().Msg("Config update - no ip changes to add or remove")
		return nil
	}

	// Forcing is the union of: bulk changes on either side, primary being
	// removed, primary unknown.
	force := len(toRemove) > 1 || len(toAdd) > 1

	if primaryIP == "" || contains(toRemove, primaryIP) {
		r.logger.Info().Str("primary_ip", primaryIP).Msg("Config update - primary no longer available")
		force = true
		primaryIP = ""

		if r.probes.AllUninitialized(ctx, desired) {
			// Full redeployment: every node is blank, nobody will ever win an
			// election on the old config. Skip the wait.
			r.logger.Info().Msg("Config update - all nodes uninitialized, skipping primary wait and forcing reconfiguration")
		} else {
			for attempt := 0; attempt < primaryWaitAttempts && primaryIP == ""; attempt++ {
				if err := retry.Sleep(ctx, primaryWaitDelay); err != nil {
					return err
				}
				primaryIP, _ = r.probes.FindPrimary(ctx, desired)
				if primaryIP == "" {
					r.logger.Info().Msg("Config update - no new primary elected yet, waiting")
				}
			}
			if primaryIP != "" {
				metrics.PrimaryElectionsObserved.Inc()
			}
		}

		if primaryIP == "" {
			// Deterministic bootstrap target: prefer a surviving old member.
			if survivors := subtract(desired, toAdd); len(survivors) > 0 {
				primaryIP = survivors[0]
			} else {
				primaryIP = desired[0]
			}
			r.logger.Info().Str("primary_ip", primaryIP).Msg("Config update - choosing bootstrap target for reconfiguration")
		}
	}

	cfg, err := r.applier.CurrentConfig(ctx, primaryIP)
	if err != nil {
		return fmt.Errorf("reading current config: %w", err)
	}
	r.logger.Debug().
		Uint32("version", cfg.Version).
		Int("members", len(cfg.Members)).
		Msg("Config update - current config read")

	if len(toRemove) > 0 {
		r.logger.Info().Strs("to_remove", toRemove).Msg("Config update - members to remove")
	}
	if len(toAdd) > 0 {
		r.logger.Info().Strs("to_add", toAdd).Msg("Config update - members to add")
	}

	next := rsconfig.Mutate(cfg, toRemove, toAdd, r.port)
	err = r.applier.Apply(ctx, primaryIP, next, force)
	metrics.ReconfigsTotal.WithLabelValues(strconv.FormatBool(force), metrics.Outcome(err)).Inc()
	return err
}

// gatherConfiguredMembers probes every task ip with an authenticated config
// read and returns the member ips of the first configuration found. A
// bounded retry window covers the transitional NotYetInitialized state a
// starting node reports while loading its config; if every node stays in it,
// the set was never initialized and an empty result is returned.
func (r *Reconciler) gatherConfiguredMembers(ctx context.Context, taskIPs []string) []string {
	r.logger.Info().Msg("Inspecting database nodes for a pre-existing replica set - this may take a few moments")

	for attempt := 1; attempt <= gatherAttempts; attempt++ {
		notYet := 0
		for _, ip := range taskIPs {
			status := r.probes.GetConfig(ctx, ip)
			switch status.State {
			case types.NodeConfigured:
				members := status.Config.MemberIPs()
				r.logger.Info().
					Str("member_ip", ip).
					Strs("members", members).
					Msg("Pre-existing replica set configuration found")
				return members
			case types.NodeNotYetInitialized:
				notYet++
				r.logger.Debug().Str("member_ip", ip).Int("attempt", attempt).
					Msg("Node in transitional NotYetInitialized state")
			case types.NodeAuthNotReady:
				r.logger.Debug().Str("member_ip", ip).
					Msg("Expected authentication failure during initial config gathering")
			default:
				r.logger.Debug().Str("member_ip", ip).Err(status.Err).
					Msg("No pre-existing configuration found on node")
			}
		}

		if notYet == len(taskIPs) && len(taskIPs) > 0 && attempt < gatherAttempts {
			r.logger.Info().
				Int("nodes", notYet).
				Int("attempt", attempt).
				Msg("All nodes in NotYetInitialized state - waiting for config loading")
			if err := retry.Sleep(ctx, gatherDelay); err != nil {
				return nil
			}
			continue
		}
		break
	}

	r.logger.Info().Msg("No pre-existing configuration found across all nodes - proceeding with new setup")
	return nil
}

func (r *Reconciler) taskIPs(ctx context.Context) ([]string, error) {
	addrs, err := r.orch.ListTaskAddresses(ctx)
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	sort.Strings(ips)
	return ips, nil
}

func (r *Reconciler) setPhase(p types.Phase) {
	r.phase = p
	metrics.UpdateComponent("reconciler", true, string(p))
	r.logger.Debug().Str("phase", string(p)).Msg("Phase transition")
}

func (r *Reconciler) setKnown(ips []string) {
	r.known = append([]string(nil), ips...)
	metrics.MembersKnown.Set(float64(len(ips)))
}

// Phase returns the controller's current lifecycle phase.
func (r *Reconciler) Phase() types.Phase {
	return r.phase
}

// set helpers over sorted string slices

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func subtract(a, b []string) []string {
	drop := make(map[string]struct{}, len(b))
	for _, s := range b {
		drop[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := drop[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
