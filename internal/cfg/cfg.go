// Package cfg holds the application-level configuration registered alongside
// the shared go-core config structs.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config carries the app-specific fields; shared concerns (http server,
// logging, ops, tracing) register their own structs in main.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL string

	ClaudeAPIKey string
	ClaudeModel  string

	ConfidenceThreshold float64
	ContextMessages     int
	MaxAnswerTokens     int
	Temperature         float64
	ResponsePrefix      string

	RetrievalEndpoint string
	RetrievalTopK     int

	WhatsAppToken         string
	WhatsAppPhoneNumberID string
	WhatsAppAppSecret     string
	WhatsAppVerifyToken   string
	WhatsAppAPIVersion    string
	NumberFilter          string

	Workers             int
	QueueSize           int
	ErrorBackoffSeconds int
	ReconcileSeconds    int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on the operator API")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.Float64Var(&c.ConfidenceThreshold, "confidence-threshold", 70, "minimum confidence score for auto-sending a drafted answer (0..100)")
	fs.IntVar(&c.ContextMessages, "context-messages", 10, "number of recent messages used as conversation context (1..100)")
	fs.IntVar(&c.MaxAnswerTokens, "max-answer-tokens", 256, "max tokens for a generated answer")
	fs.Float64Var(&c.Temperature, "temperature", 0.5, "sampling temperature for answer generation (0..1)")
	fs.StringVar(&c.ResponsePrefix, "response-prefix", "", "text appended to every generated answer (e.g. an automation disclosure)")

	fs.StringVar(&c.RetrievalEndpoint, "retrieval-endpoint", "", "knowledge retrieval service URL (empty = answer without retrieved context)")
	fs.IntVar(&c.RetrievalTopK, "retrieval-top-k", 4, "number of context chunks requested per query")

	fs.StringVar(&c.WhatsAppToken, "whatsapp-token", "", "WhatsApp Cloud API access token (empty = outbound sending disabled)")
	fs.StringVar(&c.WhatsAppPhoneNumberID, "whatsapp-phone-number-id", "", "WhatsApp Cloud API phone number ID")
	fs.StringVar(&c.WhatsAppAppSecret, "whatsapp-app-secret", "", "Meta app secret for webhook signature verification (empty = verification disabled)")
	fs.StringVar(&c.WhatsAppVerifyToken, "whatsapp-verify-token", "", "token echoed during webhook subscription handshake")
	fs.StringVar(&c.WhatsAppAPIVersion, "whatsapp-api-version", "v19.0", "Graph API version for outbound sends")
	fs.StringVar(&c.NumberFilter, "number-filter", "", "comma-separated phone patterns allowed through the webhook (empty = allow all)")

	fs.IntVar(&c.Workers, "workers", 4, "number of triage workers (1..64)")
	fs.IntVar(&c.QueueSize, "queue-size", 256, "per-worker action queue capacity (1..65536)")
	fs.IntVar(&c.ErrorBackoffSeconds, "error-backoff-seconds", 5, "seconds a worker pauses after an upstream failure")
	fs.IntVar(&c.ReconcileSeconds, "reconcile-seconds", 60, "seconds between follow-up reconciliation sweeps")
}

// NumberPatterns returns the parsed number filter entries.
func (c *Config) NumberPatterns() []string {
	if c.NumberFilter == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(c.NumberFilter, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	// Claude API key and model are required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	// inverted form so NaN also fails
	if !(c.ConfidenceThreshold >= 0 && c.ConfidenceThreshold <= 100) {
		errs = append(errs, fmt.Errorf("invalid CONFIDENCE_THRESHOLD %v (must be 0..100)", c.ConfidenceThreshold))
	}
	if c.ContextMessages <= 0 || c.ContextMessages > 100 {
		errs = append(errs, fmt.Errorf("invalid CONTEXT_MESSAGES %d (must be 1..100)", c.ContextMessages))
	}
	if c.MaxAnswerTokens <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_ANSWER_TOKENS %d (must be positive)", c.MaxAnswerTokens))
	}
	if !(c.Temperature >= 0 && c.Temperature <= 1) {
		errs = append(errs, fmt.Errorf("invalid TEMPERATURE %v (must be 0..1)", c.Temperature))
	}
	if c.RetrievalTopK <= 0 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_TOP_K %d (must be positive)", c.RetrievalTopK))
	}

	// the sender needs both halves of the Cloud API credentials
	if c.WhatsAppToken != "" && c.WhatsAppPhoneNumberID == "" {
		errs = append(errs, errors.New("WHATSAPP_PHONE_NUMBER_ID is required when WHATSAPP_TOKEN is set"))
	}

	if c.Workers <= 0 || c.Workers > 64 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..64)", c.Workers))
	}
	if c.QueueSize <= 0 || c.QueueSize > 65536 {
		errs = append(errs, fmt.Errorf("invalid QUEUE_SIZE %d (must be 1..65536)", c.QueueSize))
	}
	if c.ErrorBackoffSeconds < 0 || c.ErrorBackoffSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid ERROR_BACKOFF_SECONDS %d (must be 0..300)", c.ErrorBackoffSeconds))
	}
	if c.ReconcileSeconds <= 0 || c.ReconcileSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid RECONCILE_SECONDS %d (must be 1..3600)", c.ReconcileSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
