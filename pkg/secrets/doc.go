/*
Package secrets resolves ${secret:name} references in configuration values.

The bot token should not live in the YAML file. Instead the file can hold a
reference that is resolved at startup:

	discord:
	  token: ${secret:discord-token}

References are looked up in order through a chain of providers:

  - EnvProvider reads SWEEPER_SECRET_DISCORD_TOKEN for "discord-token".
  - FileProvider reads a file named "discord-token" under a directory, the
    layout Docker and Kubernetes use for mounted secrets.

Secret files must not be readable by group or others.

# Basic Usage

	resolver := secrets.NewResolver(
	    secrets.NewEnvProvider(secrets.DefaultEnvPrefix),
	    fileProvider,
	)
	if err := resolver.ResolveConfig(ctx, cfg); err != nil {
	    return err
	}

Resolution errors name the secret but never include its value.
*/
package secrets
