package discovery

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// maxMetaRoutes bounds the route_N_ keys read from metadata
const maxMetaRoutes = 10

var defaultMethods = []string{"GET", "POST", "PUT", "DELETE"}

// ParseServiceRoutes reads service metadata to generate routes.
// Supported metadata keys format: route_N_fieldname where N is a number (1, 2, 3...)
// For each route N:
//   - route_N_path: pattern to match, literal or ending in "/*" (required)
//   - route_N_methods: comma-separated methods (default: GET,POST,PUT,DELETE)
//   - route_N_target: target path template (default: "*" for catch-alls, the
//     pattern's last segment for literals)
func ParseServiceRoutes(svc string, meta map[string]string) []RoutePattern {
	var routes []RoutePattern

	// routeMap[routeNum][key] = value
	routeMap := make(map[string]map[string]string)
	for key, value := range meta {
		if strings.HasPrefix(key, "route_") {
			parts := strings.SplitN(key, "_", 3)
			if len(parts) == 3 {
				routeNum := parts[1]
				fieldName := parts[2]
				if routeMap[routeNum] == nil {
					routeMap[routeNum] = make(map[string]string)
				}
				routeMap[routeNum][fieldName] = value
			}
		}
	}

	if len(routeMap) == 0 {
		return routes
	}

	for routeNum := 1; routeNum <= maxMetaRoutes; routeNum++ {
		routeNumStr := strconv.Itoa(routeNum)
		routeConfig, exists := routeMap[routeNumStr]
		if !exists {
			continue
		}

		rp := RoutePattern{
			Name:    fmt.Sprintf("%s-route-%s", svc, routeNumStr),
			Methods: defaultMethods,
			Service: svc,
		}

		if v, ok := routeConfig["path"]; ok {
			rp.Path = strings.TrimSpace(v)
		}
		if v, ok := routeConfig["methods"]; ok {
			var methods []string
			for _, m := range strings.Split(v, ",") {
				if m = strings.TrimSpace(m); m != "" {
					methods = append(methods, m)
				}
			}
			if len(methods) > 0 {
				rp.Methods = methods
			}
		}
		if v, ok := routeConfig["target"]; ok {
			rp.Target = strings.TrimSpace(v)
		}

		if rp.Path == "" {
			slog.Warn("No path provided for route", "route", rp.Name)
			continue
		}
		if rp.Target == "" {
			rp.Target = defaultTarget(rp.Path)
		}

		routes = append(routes, rp)
		slog.Debug("Parse route",
			"service", svc,
			"route", rp.Name,
			"methods", rp.Methods,
			"path", rp.Path,
			"target", rp.Target)
	}

	return routes
}

func defaultTarget(path string) string {
	if strings.HasSuffix(path, "/*") {
		return "*"
	}
	trimmed := strings.Trim(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
