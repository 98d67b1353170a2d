package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/icnocop/pipelines-testlogger/internal/grouping"
	"gopkg.in/yaml.v3"
)

// ErrNotPipelineRun means the process is not running inside a pipeline job,
// so there is no backend to publish to.
var ErrNotPipelineRun = errors.New("not an Azure Pipelines test run")

// Getenv looks up an environment variable. os.Getenv in production.
type Getenv func(string) string

// Config configures the test logger.
type Config struct {
	CollectionURI     string `yaml:"collectionUri"`
	TeamProject       string `yaml:"teamProject"`
	AccessToken       string `yaml:"accessToken"`
	BuildID           string `yaml:"buildId"`
	BuildRequestedFor string `yaml:"buildRequestedFor"`
	AgentName         string `yaml:"agentName"`
	JobName           string `yaml:"jobName"`

	APIVersion            string `yaml:"apiVersion"`
	UseDefaultCredentials bool   `yaml:"useDefaultCredentials"`
	Verbose               bool   `yaml:"verbose"`
	GroupBy               string `yaml:"groupBy"`

	DrainTimeoutSeconds    int `yaml:"drainTimeoutSeconds"`
	CompleteTimeoutSeconds int `yaml:"completeTimeoutSeconds"`
	StopTimeoutSeconds     int `yaml:"stopTimeoutSeconds"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	TracingEnabled   bool    `yaml:"tracingEnabled"`
	OTLPEndpoint     string  `yaml:"otlpEndpoint"`
	OTLPInsecure     bool    `yaml:"otlpInsecure"`
	TraceSampleRatio float64 `yaml:"traceSampleRatio"`

	PushgatewayURL string `yaml:"pushgatewayUrl"`
}

// LoadConfigOptional reads an optional YAML file and applies environment
// overrides and defaults. A blank or missing path is not an error.
func LoadConfigOptional(filePath string) (*Config, error) {
	return LoadConfigWithEnv(filePath, os.Getenv)
}

func LoadConfigWithEnv(filePath string, getenv Getenv) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var c Config
	if err := readYAML(filePath, &c); err != nil {
		return nil, err
	}

	setString(&c.AccessToken, getenv("SYSTEM_ACCESSTOKEN"))
	setString(&c.CollectionURI, getenv("SYSTEM_TEAMFOUNDATIONCOLLECTIONURI"))
	setString(&c.TeamProject, getenv("SYSTEM_TEAMPROJECT"))
	setString(&c.BuildID, getenv("BUILD_BUILDID"))
	setString(&c.BuildRequestedFor, getenv("BUILD_REQUESTEDFOR"))
	setString(&c.AgentName, getenv("AGENT_NAME"))
	setString(&c.JobName, getenv("AGENT_JOBNAME"))

	setString(&c.APIVersion, getenv("TESTLOGGER_API_VERSION"))
	setString(&c.GroupBy, getenv("TESTLOGGER_GROUP_BY"))
	setBool(&c.UseDefaultCredentials, getenv("TESTLOGGER_USE_DEFAULT_CREDENTIALS"))
	setBool(&c.Verbose, getenv("TESTLOGGER_VERBOSE"))
	setInt(&c.DrainTimeoutSeconds, getenv("TESTLOGGER_DRAIN_TIMEOUT_SECONDS"))
	setInt(&c.CompleteTimeoutSeconds, getenv("TESTLOGGER_COMPLETE_TIMEOUT_SECONDS"))
	setInt(&c.StopTimeoutSeconds, getenv("TESTLOGGER_STOP_TIMEOUT_SECONDS"))
	setString(&c.LogLevel, getenv("TESTLOGGER_LOG_LEVEL"))
	setString(&c.LogFormat, getenv("TESTLOGGER_LOG_FORMAT"))
	setBool(&c.TracingEnabled, getenv("TESTLOGGER_TRACING_ENABLED"))
	setString(&c.OTLPEndpoint, getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	setFloat(&c.TraceSampleRatio, getenv("TESTLOGGER_TRACE_SAMPLE_RATIO"))
	setString(&c.PushgatewayURL, getenv("TESTLOGGER_PUSHGATEWAY_URL"))

	if c.APIVersion == "" {
		c.APIVersion = "5.0"
	}
	if c.GroupBy == "" {
		c.GroupBy = grouping.ByClass.String()
	}
	if c.DrainTimeoutSeconds <= 0 {
		c.DrainTimeoutSeconds = 60
	}
	if c.CompleteTimeoutSeconds <= 0 {
		c.CompleteTimeoutSeconds = 60
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = 10
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	return &c, nil
}

// ApplyParameters applies logger parameters given on the command line, such
// as Verbose=true or ApiVersion=3.0-preview. Keys are case-insensitive.
func (c *Config) ApplyParameters(params map[string]string) error {
	for k, v := range params {
		v = strings.TrimSpace(v)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "verbose":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parameter %s: %w", k, err)
			}
			c.Verbose = b
		case "usedefaultcredentials":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parameter %s: %w", k, err)
			}
			c.UseDefaultCredentials = b
		case "apiversion":
			if v == "" {
				return fmt.Errorf("parameter %s: empty value", k)
			}
			c.APIVersion = v
		case "grouptestresultsbyclassname":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parameter %s: %w", k, err)
			}
			if b {
				c.GroupBy = grouping.ByClass.String()
			} else {
				c.GroupBy = grouping.ByMethod.String()
			}
		default:
			return fmt.Errorf("unknown logger parameter %q", k)
		}
	}
	return nil
}

// Validate reports ErrNotPipelineRun for the first missing pipeline variable.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"SYSTEM_TEAMFOUNDATIONCOLLECTIONURI", c.CollectionURI},
		{"SYSTEM_TEAMPROJECT", c.TeamProject},
		{"BUILD_BUILDID", c.BuildID},
	}
	if !c.UseDefaultCredentials {
		required = append(required, struct {
			name  string
			value string
		}{"SYSTEM_ACCESSTOKEN", c.AccessToken})
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s is not set", ErrNotPipelineRun, r.name)
		}
	}

	var errs []string
	if _, err := grouping.ParsePolicy(c.GroupBy); err != nil {
		errs = append(errs, err.Error())
	}
	if strings.TrimSpace(c.APIVersion) == "" {
		errs = append(errs, "apiVersion is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Policy returns the grouping policy; call Validate first.
func (c *Config) Policy() grouping.Policy {
	p, _ := grouping.ParsePolicy(c.GroupBy)
	return p
}

func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

func (c *Config) CompleteTimeout() time.Duration {
	return time.Duration(c.CompleteTimeoutSeconds) * time.Second
}

func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

func readYAML(filePath string, out any) error {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", filePath, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", filePath, err)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
		*dst = b
	}
}

func setFloat(dst *float64, v string) {
	if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		*dst = f
	}
}
