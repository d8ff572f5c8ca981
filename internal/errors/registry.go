package errors

import "sort"

// Template defines a registered error type.
type Template struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// ============================================
	// Configuration Errors (R100-R119)
	// ============================================

	"R100": {
		Category: CategoryConfig,
		Message:  "Config file not found",
		Detail:   "The configuration file does not exist or cannot be read.",
	},
	"R101": {
		Category: CategoryConfig,
		Message:  "Invalid config file",
		Detail:   "The configuration file could not be parsed as YAML or JSON, or contains unknown keys.",
	},
	"R102": {
		Category: CategoryConfig,
		Message:  "Invalid scheduler strategy",
		Detail:   "The scheduler strategy must be one of sync, macrotask, frame or manual.",
	},
	"R103": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   "Durations such as the frame interval or the stability timeout must not be negative.",
	},
	"R104": {
		Category: CategoryConfig,
		Message:  "Invalid listen address",
		Detail:   "The listen address must have the form host:port.",
	},
	"R105": {
		Category: CategoryConfig,
		Message:  "Invalid log setting",
		Detail:   "Log level must be debug, info, warn or error, and format must be text or json.",
	},
	"R106": {
		Category: CategoryConfig,
		Message:  "Invalid signal name",
		Detail:   "Signal names may contain letters, digits, '-', '_' and '.' only.",
	},
	"R107": {
		Category: CategoryConfig,
		Message:  "Invalid metrics path",
		Detail:   "The metrics path must start with '/'.",
	},

	// ============================================
	// CLI Errors (R140-R159)
	// ============================================

	"R140": {
		Category: CategoryCLI,
		Message:  "Server failed",
		Detail:   "The HTTP server stopped with an error.",
	},
	"R141": {
		Category: CategoryCLI,
		Message:  "Port in use",
		Detail:   "The listen address is already in use by another process.",
	},
	"R142": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
		Detail:   "A command line flag has a value that cannot be used.",
	},
	"R143": {
		Category: CategoryCLI,
		Message:  "Benchmark failed",
		Detail:   "The graph did not settle within the benchmark timeout.",
	},

	// ============================================
	// Hub Errors (R160-R179)
	// ============================================

	"R160": {
		Category: CategoryHub,
		Message:  "Unknown signal",
		Detail:   "No signal with this name is registered with the hub.",
	},
	"R161": {
		Category: CategoryHub,
		Message:  "Invalid signal value",
		Detail:   "The request body must be a JSON document holding the new value.",
	},
	"R162": {
		Category: CategoryHub,
		Message:  "Stability timeout",
		Detail:   "The write was applied but the graph did not settle before the request deadline.",
	},
	"R163": {
		Category: CategoryHub,
		Message:  "Watch failed",
		Detail:   "The WebSocket watch stream could not be established.",
	},

	// ============================================
	// Scenario Errors (R180-R199)
	// ============================================

	"R180": {
		Category: CategoryScenario,
		Message:  "Invalid scenario file",
		Detail:   "The scenario file could not be parsed or contains unknown keys.",
	},
	"R181": {
		Category: CategoryScenario,
		Message:  "Unknown scenario signal",
		Detail:   "A step or effect refers to a signal the scenario does not declare.",
	},
	"R182": {
		Category: CategoryScenario,
		Message:  "Invalid scenario step",
		Detail:   "Each step must name exactly one of set, flush, stable or dispose.",
	},
	"R183": {
		Category: CategoryScenario,
		Message:  "Scenario did not settle",
		Detail:   "A stable step hit the scenario's pass limit.",
	},
	"R184": {
		Category: CategoryScenario,
		Message:  "Scenario recorded failures",
		Detail:   "An effect failed while the scenario ran in strict mode.",
	},
}

// Codes returns all registered error codes in order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template for an error code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template Template) {
	registry[code] = template
}
