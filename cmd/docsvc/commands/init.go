package commands

import (
	"fmt"

	"github.com/insurecove/document-service/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample docsvc configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/docsvc/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  docsvc init

  # Initialize with custom path
  docsvc init --config /etc/docsvc/config.yaml

  # Force overwrite existing config
  docsvc init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the service with: docsvc serve")
	fmt.Printf("  3. Or specify custom config: docsvc serve --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  The JWT signing secret is not stored in the config file.")
	fmt.Println("  Provide it through the configured secrets backend, for development:")
	fmt.Println("    export DOCSVC_SECRET_AUTH_JWT_SIGNING_KEY=$(openssl rand -hex 32)")

	return nil
}
