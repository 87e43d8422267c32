// Package constants provides shared constants for the portfolio-optimizer application.
package constants

import "time"

// DateLayout is the format expected in config files, CSV price files and
// report output.
const DateLayout = "2006-01-02"

// Financial constants
const (
	// TradingDaysPerYear annualizes daily return statistics.
	TradingDaysPerYear = 252

	// PercentageMultiplier is used for percentage conversions
	PercentageMultiplier = 100.0

	// DecimalPrecision is the precision for percentage rounding in reports (2 decimal places)
	DecimalPrecision = 100
)

// Solver defaults
const (
	// DefaultTolerance is the absolute tolerance for equality constraints and bound violations.
	DefaultTolerance = 1e-9

	// DefaultPSDTolerance is how negative the smallest covariance eigenvalue may be
	// before the matrix is rejected as indefinite.
	DefaultPSDTolerance = 1e-8

	// DefaultMaxCondition is the largest acceptable condition number of a reduced KKT system.
	DefaultMaxCondition = 1e12

	// DefaultFrontierPoints is the number of targets evaluated by a frontier sweep.
	DefaultFrontierPoints = 20

	// DefaultSolveTimeout bounds a single optimization at the host boundary.
	DefaultSolveTimeout = 5 * time.Second
)

// Preference bands
const (
	// DesiredReturnHintMin and DesiredReturnHintMax bound the desired return (percent)
	// suggested to users. Values outside produce a warning only.
	DesiredReturnHintMin = 7.75
	DesiredReturnHintMax = 9.0

	// RiskToleranceMin and RiskToleranceMax bound the risk tolerance (percent).
	RiskToleranceMin = 1.0
	RiskToleranceMax = 100.0

	// TermMedium and TermLong are the accepted investment terms.
	TermMedium = "medium"
	TermLong   = "long"

	// MediumTermLookbackYears and LongTermLookbackYears select the default price history
	// window when no explicit start date is configured.
	MediumTermLookbackYears = 5
	LongTermLookbackYears   = 10
)

// History window defaults
const (
	// DefaultHistoryStart and DefaultHistoryEnd are used when the configuration
	// leaves the window and the term unset.
	DefaultHistoryStart = "2015-01-01"
	DefaultHistoryEnd   = "2023-01-01"
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"

	// OutputFormatJSON is the JSON output format
	OutputFormatJSON = "json"
)

// Market data providers
const (
	ProviderYahoo = "yahoo"
	ProviderCSV   = "csv"

	// DefaultRequestsPerSecond throttles remote market data requests.
	DefaultRequestsPerSecond = 2.0
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// ExampleConfigFile is the example configuration file name
	ExampleConfigFile = "config.yaml.example"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"

	// DefaultEnvFile is loaded into the environment before configuration is read.
	DefaultEnvFile = ".env"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the API
	DefaultServerAddress = ":8080"

	// DefaultMaxUploadSizeBytes is the default maximum request body size (256 KB)
	DefaultMaxUploadSizeBytes int64 = 256 * 1024
)
