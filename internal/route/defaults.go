package route

var allMethods = []string{"GET", "POST", "PUT", "DELETE"}

// DefaultDefinitions returns the back office route table: a catch-all per
// record-keeping family plus the literal aliases the dashboard calls.
func DefaultDefinitions() []Definition {
	return []Definition{
		MustDefinition("equipos-proxy", allMethods, "/api/equipos/*", "equipos", "equipos/*"),
		MustDefinition("proveedores-proxy", allMethods, "/api/proveedores/*", "proveedores", "proveedores/*"),
		MustDefinition("mantenimientos-proxy", allMethods, "/api/mantenimientos/*", "mantenimientos", "mantenimientos/*"),

		MustDefinition("mantenimientos-list", []string{"GET", "POST"}, "/api/mantenimientos", "mantenimientos", "mantenimientos"),
		MustDefinition("equipos-list", []string{"GET"}, "/api/equipos", "equipos", "equipos"),
		MustDefinition("categorias-list", []string{"GET"}, "/api/categorias", "equipos", "categorias"),
		MustDefinition("ubicaciones-list", []string{"GET"}, "/api/ubicaciones", "equipos", "ubicaciones"),
		MustDefinition("proveedores-list", []string{"GET"}, "/api/proveedores", "proveedores", "proveedores"),
		MustDefinition("reportes-dashboard", []string{"GET"}, "/api/reportes/dashboard", "reportes", "dashboard"),
		MustDefinition("agents-run-all", []string{"POST"}, "/api/agents/run-all-agents", "agents", "run-all-agents"),
		MustDefinition("agents-notificaciones", []string{"GET"}, "/api/agents/notificaciones", "agents", "notificaciones"),
	}
}
