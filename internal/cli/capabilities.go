package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type capabilitiesReport struct {
	SupportsWebp bool   `yaml:"supports_webp"`
	NativeWebp   bool   `yaml:"native_webp"`
	Cwebp        string `yaml:"cwebp,omitempty"`
	Magick       string `yaml:"magick,omitempty"`
	Chrome       string `yaml:"chrome,omitempty"`
	IsRoot       bool   `yaml:"is_root"`
	CanEscalate  bool   `yaml:"can_escalate"`
}

func newCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Prints the probed host capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			caps := a.Capabilities()
			report := capabilitiesReport{
				SupportsWebp: caps.SupportsWebp,
				NativeWebp:   caps.HasNativeWebp,
				Cwebp:        caps.CwebpPath,
				Magick:       caps.MagickPath,
				Chrome:       caps.ChromePath,
				IsRoot:       caps.IsRoot,
				CanEscalate:  caps.CanEscalate,
			}
			data, err := yaml.Marshal(report)
			if err != nil {
				return fmt.Errorf("encode capabilities: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return fmt.Errorf("write capabilities: %w", err)
			}
			return nil
		},
	}
}
