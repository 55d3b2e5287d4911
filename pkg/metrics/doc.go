/*
Package metrics provides Prometheus metrics and HTTP health checks for the
containerizer.

Metrics are package-level Prometheus collectors registered at init time and
exposed over /metrics via Handler(). Components record observations inline
as they execute. The one exception is dockerizer_containers_active: besides
the inline Inc/Dec calls, the Lifecycle Engine's command loop resets it from
the registry's contents every 30 seconds.

# Metric catalog

	dockerizer_containers_active{state}         gauge    containers currently tracked by lifecycle state
	dockerizer_launches_total{outcome}          counter  launch() completions by outcome
	dockerizer_launch_duration_seconds          histogram time from launch() to the reap being armed
	dockerizer_destroys_total{killed}           counter  destroy() completions, killed=true/false
	dockerizer_destroy_duration_seconds         histogram time spent tearing a container down
	dockerizer_image_pulls_total{outcome}        counter  docker pull attempts by outcome
	dockerizer_image_pull_duration_seconds      histogram time spent in docker pull
	dockerizer_cgroup_write_duration_seconds{subsystem} histogram cgroup subsystem writes during update()
	dockerizer_resource_updates_total{outcome}  counter  update() calls by outcome
	dockerizer_recovered_containers_total{outcome} counter containers reattached or swept during recovery
	dockerizer_usage_probe_duration_seconds     histogram time to collect usage() for one container

# Timer

Timer captures a start time and later records the elapsed duration against a
histogram:

	t := metrics.NewTimer()
	// ... do work ...
	t.ObserveDuration(metrics.LaunchDuration)

ObserveDurationVec does the same against a HistogramVec with label values,
and Duration returns the elapsed time directly for callers that want to log
it alongside recording it.

# Health and readiness

RegisterComponent/UpdateComponent record the health of a named dependency
(the "docker" daemon, the recovery journal). WatchComponent wraps a recurring
probe (dockerizerctl's serve command polls `docker ps` and the recovery
journal's bbolt file on a timer) and reports its outcome through
UpdateComponent. GetHealth aggregates all registered components; GetReadiness
additionally requires the containerizer's critical dependencies ("docker") to
be registered and healthy before reporting ready. HealthHandler, ReadyHandler,
and LivenessHandler adapt these into HTTP handlers returning 200 or 503;
dockerizerctl's serve command mounts them at /healthz, /readyz and /livez.
*/
package metrics
