package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/models"
)

// registryFile is the YAML layout accepted by `fern registry import`.
//
//	entities:
//	  - id: pol-001
//	    name: 山田太郎
//	    party_name: 自由民主党
//	    region: 東京都
type registryFile struct {
	Entities []struct {
		ID        string  `yaml:"id"`
		Name      string  `yaml:"name"`
		PartyName *string `yaml:"party_name"`
		Region    *string `yaml:"region"`
	} `yaml:"entities"`
}

func parseRegistryFile(data []byte) ([]models.CanonicalEntity, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}

	entities := make([]models.CanonicalEntity, 0, len(file.Entities))
	seen := map[string]bool{}
	for i, e := range file.Entities {
		if e.ID == "" || e.Name == "" {
			return nil, fmt.Errorf("entity %d: id and name are required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("entity %d: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
		entities = append(entities, models.CanonicalEntity{
			ID:        e.ID,
			Name:      e.Name,
			PartyName: e.PartyName,
			Region:    e.Region,
		})
	}
	return entities, nil
}

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the canonical registry",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert registry entries for the family from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file flag is required")
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			entities, err := parseRegistryFile(data)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app, family models.Family, _ string) error {
				if err := a.registry.Upsert(ctx, family, entities); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"family": family, "imported": len(entities)})
			})
		},
	}
	importCmd.Flags().String("file", "", "YAML file with an entities list")

	cmd.AddCommand(importCmd)
	return cmd
}
