// Package config provides configuration management for sweeper.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. Every field has a default, so sweeper runs with nothing but a
// bot token in the environment.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("sweeper.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("sweeper.yaml")
//
//  3. From the file when present, defaults otherwise:
//     cfg, err := config.Load("sweeper.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention SWEEPER_SECTION_FIELD:
//
//   - SWEEPER_DISCORD_TOKEN overrides discord.token
//   - SWEEPER_STORE_BACKEND overrides store.backend
//   - SWEEPER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file and hands each valid new
// configuration to a callback. Only telemetry.logging.level and
// retention.exempt_automated take effect without a restart.
//
// # Singleton Pattern
//
//	if err := config.Initialize("sweeper.yaml"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg := config.GetConfig()
//
// For tests, prefer passing explicit *Config values.
package config
