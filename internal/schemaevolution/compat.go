package schemaevolution

import (
	"fmt"
	"time"

	"github.com/suuupra/gateway/internal/config"
)

// TestBackwardCompatibility diffs two configuration revisions and classifies
// every change. It is a pre-deploy gate, not a blocker: the caller decides
// whether warnings are acceptable.
func TestBackwardCompatibility(oldCfg, newCfg *config.GatewayConfig) *CompatibilityReport {
	report := &CompatibilityReport{
		OldVersion: oldCfg.Version,
		NewVersion: newCfg.Version,
		Timestamp:  time.Now(),
	}

	checkRemovedRoutes(oldCfg, newCfg, report)
	checkRemovedServices(oldCfg, newCfg, report)
	checkAuthWeakened(oldCfg, newCfg, report)
	checkRateLimitWeakened(oldCfg, newCfg, report)
	checkAddedRoutes(oldCfg, newCfg, report)

	report.Compatible = true
	for _, issue := range report.Issues {
		if issue.Type == SeverityBreaking {
			report.Compatible = false
			break
		}
	}
	return report
}

func checkRemovedRoutes(oldCfg, newCfg *config.GatewayConfig, report *CompatibilityReport) {
	for _, route := range oldCfg.Routes {
		if newCfg.RouteByID(route.ID) == nil {
			report.Issues = append(report.Issues, CompatibilityIssue{
				Type:     SeverityBreaking,
				Category: CategoryRoute,
				Impact:   "high",
				Subject:  route.ID,
				Message:  fmt.Sprintf("route %q was removed; clients using it will receive 404s", route.ID),
			})
		}
	}
}

func checkRemovedServices(oldCfg, newCfg *config.GatewayConfig, report *CompatibilityReport) {
	for _, svc := range oldCfg.Services {
		if newCfg.ServiceByName(svc.Name) == nil {
			report.Issues = append(report.Issues, CompatibilityIssue{
				Type:     SeverityBreaking,
				Category: CategoryService,
				Impact:   "high",
				Subject:  svc.Name,
				Message:  fmt.Sprintf("service %q was removed", svc.Name),
			})
		}
	}
}

func checkAuthWeakened(oldCfg, newCfg *config.GatewayConfig, report *CompatibilityReport) {
	for _, oldRoute := range oldCfg.Routes {
		if !authEnabled(&oldRoute) {
			continue
		}
		newRoute := newCfg.RouteByID(oldRoute.ID)
		if newRoute == nil {
			continue // already reported as removed
		}
		if !authEnabled(newRoute) {
			report.Issues = append(report.Issues, CompatibilityIssue{
				Type:     SeverityBreaking,
				Category: CategoryAuth,
				Impact:   "medium",
				Subject:  oldRoute.ID,
				Message:  fmt.Sprintf("authentication was disabled on previously-protected route %q", oldRoute.ID),
			})
		}
	}
}

func checkRateLimitWeakened(oldCfg, newCfg *config.GatewayConfig, report *CompatibilityReport) {
	for _, oldRoute := range oldCfg.Routes {
		oldRL := rateLimitOf(&oldRoute)
		if oldRL == nil || !oldRL.Enabled {
			continue
		}
		newRoute := newCfg.RouteByID(oldRoute.ID)
		if newRoute == nil {
			continue
		}
		newRL := rateLimitOf(newRoute)
		if newRL == nil || !newRL.Enabled {
			report.Issues = append(report.Issues, CompatibilityIssue{
				Type:     SeverityWarning,
				Category: CategoryRateLimit,
				Impact:   "medium",
				Subject:  oldRoute.ID,
				Message:  fmt.Sprintf("rate limiting was disabled on route %q", oldRoute.ID),
			})
			continue
		}
		// Capacity and sustained rate loosen independently: a bigger bucket
		// admits larger bursts, a shorter interval at constant tokens raises
		// the steady rate.
		if newRL.MaxTokens() > oldRL.MaxTokens() {
			report.Issues = append(report.Issues, CompatibilityIssue{
				Type:     SeverityWarning,
				Category: CategoryRateLimit,
				Impact:   "low",
				Subject:  oldRoute.ID,
				Message: fmt.Sprintf("rate limit on route %q was loosened (%d -> %d tokens)",
					oldRoute.ID, oldRL.MaxTokens(), newRL.MaxTokens()),
			})
		} else if ratePerSecond(newRL) > ratePerSecond(oldRL) {
			report.Issues = append(report.Issues, CompatibilityIssue{
				Type:     SeverityWarning,
				Category: CategoryRateLimit,
				Impact:   "low",
				Subject:  oldRoute.ID,
				Message: fmt.Sprintf("rate limit on route %q was loosened (%d -> %d requests/s)",
					oldRoute.ID, ratePerSecond(oldRL), ratePerSecond(newRL)),
			})
		}
	}
}

func checkAddedRoutes(oldCfg, newCfg *config.GatewayConfig, report *CompatibilityReport) {
	for _, route := range newCfg.Routes {
		if oldCfg.RouteByID(route.ID) == nil {
			report.Issues = append(report.Issues, CompatibilityIssue{
				Type:     SeverityInfo,
				Category: CategoryRoute,
				Impact:   "low",
				Subject:  route.ID,
				Message:  fmt.Sprintf("route %q was added", route.ID),
			})
		}
	}
}

func authEnabled(route *config.RouteConfig) bool {
	return route.Policy != nil && route.Policy.Auth != nil && route.Policy.Auth.Enabled
}

func rateLimitOf(route *config.RouteConfig) *config.RateLimitPolicy {
	if route.Policy == nil {
		return nil
	}
	return route.Policy.RateLimit
}

func ratePerSecond(rl *config.RateLimitPolicy) int {
	if rl.IntervalMs <= 0 {
		return rl.TokensPerInterval
	}
	return rl.TokensPerInterval * 1000 / rl.IntervalMs
}
