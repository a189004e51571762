package config

import (
	"strings"
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/tablecall/tablecall/pkg/notify"
)

// NotifySettings configures delivery of completion events to staff endpoints.
type NotifySettings struct {
	// Comma-separated URLs that receive every default event type in addition
	// to the endpoints registered through the API.
	StaffWebhookURLs   string `envDefault:""      env:"STAFF_WEBHOOK_URLS"`
	StaffWebhookSecret string `envDefault:""      env:"STAFF_WEBHOOK_SECRET"`
	WebhookMaxRetries  int    `envDefault:"5"     env:"WEBHOOK_MAX_RETRIES"`
	WebhookTimeoutSec  int    `envDefault:"10"    env:"WEBHOOK_TIMEOUT_SEC"`
	WebhookBackoffSec  int    `envDefault:"1"     env:"WEBHOOK_BACKOFF_INITIAL_SEC"`
	WebhookBackoffMax  int    `envDefault:"300"   env:"WEBHOOK_BACKOFF_MAX_SEC"`
	CBFailThreshold    int    `envDefault:"5"     env:"CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec  int    `envDefault:"60"    env:"CB_RESET_TIMEOUT_SEC"`
	AllowPrivateHooks  bool   `envDefault:"false" env:"WEBHOOK_ALLOW_PRIVATE"`
}

// DelivererConfig converts the settings for notify.NewDeliverer.
func (n NotifySettings) DelivererConfig() notify.DelivererConfig {
	return notify.DelivererConfig{
		MaxRetries:      n.WebhookMaxRetries,
		Timeout:         seconds(n.WebhookTimeoutSec),
		BackoffInitial:  seconds(n.WebhookBackoffSec),
		BackoffMax:      seconds(n.WebhookBackoffMax),
		CBFailThreshold: n.CBFailThreshold,
		CBResetTimeout:  seconds(n.CBResetTimeoutSec),
	}
}

// StaticEndpoints returns the configured staff URLs as endpoints.
func (n NotifySettings) StaticEndpoints() []notify.StaffEndpoint {
	var eps []notify.StaffEndpoint
	for _, u := range strings.Split(n.StaffWebhookURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			eps = append(eps, notify.StaticEndpoint(len(eps), u, n.StaffWebhookSecret))
		}
	}
	return eps
}

// ServiceConfig holds configuration for the single-binary service.
type ServiceConfig struct {
	config.ConfigurationDefault

	// Dialogue
	MaxAttempts    int    `envDefault:"4"     env:"MAX_ATTEMPTS"`
	MaxPartySize   int    `envDefault:"20"    env:"MAX_PARTY_SIZE"`
	IdleTimeoutSec int    `envDefault:"120"   env:"IDLE_TIMEOUT_SEC"`
	SessionTTLMin  int    `envDefault:"30"    env:"SESSION_TTL_MIN"`
	TimeZone       string `envDefault:"Local" env:"TIME_ZONE"`
	ScriptPath     string `envDefault:""      env:"SCRIPT_PATH"`

	// Persistence
	PhoneRegion string `envDefault:"US" env:"PHONE_REGION"`
	SeedPath    string `envDefault:""   env:"SEED_PATH"`

	// Bearer token the voice assistant presents on tool-call webhooks.
	ToolSecret string `envDefault:"" env:"TOOL_SECRET"`

	// When set, finished records are submitted to this TableCall node
	// instead of the local database.
	GatewayURL        string `envDefault:""   env:"GATEWAY_URL"`
	GatewayToken      string `envDefault:""   env:"GATEWAY_TOKEN"`
	GatewayTimeoutSec int    `envDefault:"10" env:"GATEWAY_TIMEOUT_SEC"`

	NotifySettings
}

// NotifierConfig holds configuration for the standalone notifier service.
type NotifierConfig struct {
	config.ConfigurationDefault
	NotifySettings
}

// IdleTimeout is how long a call may stay silent before it is closed.
func (c *ServiceConfig) IdleTimeout() time.Duration { return seconds(c.IdleTimeoutSec) }

// SessionTTL is the longest a call may live before the reaper ends it.
func (c *ServiceConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMin) * time.Minute
}

// Location resolves TimeZone, falling back to the local zone.
func (c *ServiceConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" || strings.EqualFold(c.TimeZone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
