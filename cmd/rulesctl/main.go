// Command rulesctl is an operator CLI for the fraud rule governance core:
// it wraps the same create/submit/approve/reject/activate/publish
// operations the HTTP API exposes, for local operation and scripting.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fraud-platform/card-fraud-rule-management/internal/approval"
	"github.com/fraud-platform/card-fraud-rule-management/internal/compiler"
	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/events"
	"github.com/fraud-platform/card-fraud-rule-management/internal/objectstore"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/config"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/database"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/logger"
	"github.com/fraud-platform/card-fraud-rule-management/internal/publisher"
	"github.com/fraud-platform/card-fraud-rule-management/internal/repository"
	"github.com/fraud-platform/card-fraud-rule-management/internal/service"
)

// cli bundles the wiring every subcommand needs; it is built once, lazily,
// from the same environment variables cmd/server reads.
type cli struct {
	db        *database.DB
	store     objectstore.Store
	rules     *service.RuleService
	rulesets  *service.RulesetService
	fields    *service.FieldService
	registry  *service.FieldRegistryService
	loader    *service.RepositoryLoader
	approvals *approval.Engine
}

func newCLI(ctx context.Context) (*cli, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: "rulesctl",
		Version:     cfg.Service.Version,
	})

	db, err := database.New(ctx, database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns, MinConns: cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime, MaxIdleTime: cfg.Database.MaxIdleTime, HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	var store objectstore.Store
	if cfg.Storage.Backend == "s3" {
		store, err = objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket: cfg.Storage.Bucket, Region: cfg.Storage.Region, Endpoint: cfg.Storage.Endpoint,
			Prefix: cfg.Storage.Prefix, PathStyle: cfg.Storage.PathStyle,
		})
	} else {
		store, err = objectstore.NewFilesystemStore(cfg.Storage.Root)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing object storage: %w", err)
	}

	ruleRepo := repository.NewRuleRepository(db)
	rulesetRepo := repository.NewRulesetRepository(db)
	fieldRepo := repository.NewFieldRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	manifestRepo := repository.NewManifestRepository(db)

	loader := service.NewRepositoryLoader(ruleRepo, rulesetRepo, fieldRepo)
	comp := compiler.New(loader)
	pub := publisher.New(comp, store, manifestRepo, time.Now)
	notifier := events.New(nil, log.Logger)
	engine := approval.New(db, ruleRepo, rulesetRepo, fieldRepo, approvalRepo, auditRepo, pub, notifier, log.Logger)

	return &cli{
		db:    db,
		store: store,
		rules: service.NewRuleService(ruleRepo),
		rulesets: service.NewRulesetService(rulesetRepo, ruleRepo),
		fields:   service.NewFieldService(db, fieldRepo),
		registry: service.NewFieldRegistryService(db, fieldRepo, store),
		loader:    loader,
		approvals: engine,
	}, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func main() {
	root := &cobra.Command{
		Use:   "rulesctl",
		Short: "Operate the fraud rule governance control plane from the command line",
	}

	root.AddCommand(newCreateRuleCmd())
	root.AddCommand(newCreateRuleVersionCmd())
	root.AddCommand(newSubmitRuleVersionCmd())
	root.AddCommand(newApproveRuleVersionCmd())
	root.AddCommand(newRejectRuleVersionCmd())
	root.AddCommand(newCreateRulesetCmd())
	root.AddCommand(newCreateRulesetVersionCmd())
	root.AddCommand(newSubmitRulesetVersionCmd())
	root.AddCommand(newApproveRulesetVersionCmd())
	root.AddCommand(newActivateRulesetCmd())
	root.AddCommand(newPublishRegistryCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCreateRuleCmd() *cobra.Command {
	var name, description, ruleType, by string
	cmd := &cobra.Command{
		Use:   "create-rule",
		Short: "Create a new rule identity in DRAFT state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			rule, err := c.rules.CreateRule(cmd.Context(), service.CreateRuleRequest{
				RuleName: name, Description: description, RuleType: domain.RuleType(ruleType), CreatedBy: by,
			})
			if err != nil {
				return err
			}
			printJSON(rule)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().StringVar(&description, "description", "", "rule description")
	cmd.Flags().StringVar(&ruleType, "rule-type", "", "AUTH | MONITORING | ALLOWLIST | BLOCKLIST")
	cmd.Flags().StringVar(&by, "by", "", "maker identity")
	return cmd
}

func newCreateRuleVersionCmd() *cobra.Command {
	var ruleID, conditionFile, scopeFile, action string
	var priority int
	var by string
	cmd := &cobra.Command{
		Use:   "create-rule-version",
		Short: "Create a new DRAFT rule version from a condition-tree JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			tree, err := os.ReadFile(conditionFile)
			if err != nil {
				return fmt.Errorf("reading condition tree file: %w", err)
			}

			var scope domain.Scope
			if scopeFile != "" {
				raw, err := os.ReadFile(scopeFile)
				if err != nil {
					return fmt.Errorf("reading scope file: %w", err)
				}
				if err := json.Unmarshal(raw, &scope); err != nil {
					return fmt.Errorf("parsing scope file: %w", err)
				}
			}

			catalog, err := c.loader.LoadActiveCatalog(cmd.Context())
			if err != nil {
				return err
			}
			rv, err := c.rules.CreateRuleVersion(cmd.Context(), catalog, service.CreateRuleVersionRequest{
				RuleID: ruleID, ConditionTree: tree, Scope: scope,
				Priority: priority, Action: domain.Action(action), CreatedBy: by,
			})
			if err != nil {
				return err
			}
			printJSON(rv)
			return nil
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule-id", "", "parent rule id")
	cmd.Flags().StringVar(&conditionFile, "condition-tree", "", "path to condition-tree JSON")
	cmd.Flags().StringVar(&scopeFile, "scope", "", "path to scope JSON (dimension -> allowed values)")
	cmd.Flags().IntVar(&priority, "priority", 0, "evaluation priority")
	cmd.Flags().StringVar(&action, "action", "", "resulting action")
	cmd.Flags().StringVar(&by, "by", "", "maker identity")
	return cmd
}

func newSubmitRuleVersionCmd() *cobra.Command {
	var ruleVersionID, idempotencyKey, by string
	cmd := &cobra.Command{
		Use:   "submit-rule-version",
		Short: "Submit a DRAFT rule version for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			v, a, err := c.approvals.SubmitRuleVersion(cmd.Context(), ruleVersionID, by, idempotencyKey)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"rule_version": v, "approval": a})
			return nil
		},
	}
	cmd.Flags().StringVar(&ruleVersionID, "rule-version-id", "", "rule version id")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key")
	cmd.Flags().StringVar(&by, "by", "", "maker identity")
	return cmd
}

func newApproveRuleVersionCmd() *cobra.Command {
	var ruleVersionID, remarks, by string
	cmd := &cobra.Command{
		Use:   "approve-rule-version",
		Short: "Approve a pending rule version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			v, a, err := c.approvals.ApproveRuleVersion(cmd.Context(), ruleVersionID, by, remarks)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"rule_version": v, "approval": a})
			return nil
		},
	}
	cmd.Flags().StringVar(&ruleVersionID, "rule-version-id", "", "rule version id")
	cmd.Flags().StringVar(&remarks, "remarks", "", "checker remarks")
	cmd.Flags().StringVar(&by, "by", "", "checker identity")
	return cmd
}

func newRejectRuleVersionCmd() *cobra.Command {
	var ruleVersionID, remarks, by string
	cmd := &cobra.Command{
		Use:   "reject-rule-version",
		Short: "Reject a pending rule version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			v, a, err := c.approvals.RejectRuleVersion(cmd.Context(), ruleVersionID, by, remarks)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"rule_version": v, "approval": a})
			return nil
		},
	}
	cmd.Flags().StringVar(&ruleVersionID, "rule-version-id", "", "rule version id")
	cmd.Flags().StringVar(&remarks, "remarks", "", "checker remarks")
	cmd.Flags().StringVar(&by, "by", "", "checker identity")
	return cmd
}

func newCreateRulesetCmd() *cobra.Command {
	var environment, region, country, ruleType, name, description, by string
	cmd := &cobra.Command{
		Use:   "create-ruleset",
		Short: "Create a new ruleset identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			rs, err := c.rulesets.CreateRuleset(cmd.Context(), service.CreateRulesetRequest{
				Environment: environment, Region: region, Country: country,
				RuleType: domain.RuleType(ruleType), Name: name, Description: description, CreatedBy: by,
			})
			if err != nil {
				return err
			}
			printJSON(rs)
			return nil
		},
	}
	cmd.Flags().StringVar(&environment, "environment", "", "deployment environment")
	cmd.Flags().StringVar(&region, "region", "", "region")
	cmd.Flags().StringVar(&country, "country", "", "country")
	cmd.Flags().StringVar(&ruleType, "rule-type", "", "AUTH | MONITORING | ALLOWLIST | BLOCKLIST")
	cmd.Flags().StringVar(&name, "name", "", "ruleset name")
	cmd.Flags().StringVar(&description, "description", "", "ruleset description")
	cmd.Flags().StringVar(&by, "by", "", "maker identity")
	return cmd
}

func newCreateRulesetVersionCmd() *cobra.Command {
	var rulesetID, by string
	var ruleVersionIDs []string
	cmd := &cobra.Command{
		Use:   "create-ruleset-version",
		Short: "Bind a set of approved rule versions into a new ruleset version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			v, err := c.rulesets.CreateRulesetVersion(cmd.Context(), rulesetID, ruleVersionIDs, by)
			if err != nil {
				return err
			}
			printJSON(v)
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesetID, "ruleset-id", "", "parent ruleset id")
	cmd.Flags().StringSliceVar(&ruleVersionIDs, "rule-version-id", nil, "member rule version id (repeatable)")
	cmd.Flags().StringVar(&by, "by", "", "maker identity")
	return cmd
}

func newSubmitRulesetVersionCmd() *cobra.Command {
	var rulesetVersionID, idempotencyKey, by string
	cmd := &cobra.Command{
		Use:   "submit-ruleset-version",
		Short: "Submit a DRAFT ruleset version for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			v, a, err := c.approvals.SubmitRulesetVersion(cmd.Context(), rulesetVersionID, by, idempotencyKey)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"ruleset_version": v, "approval": a})
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesetVersionID, "ruleset-version-id", "", "ruleset version id")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key")
	cmd.Flags().StringVar(&by, "by", "", "maker identity")
	return cmd
}

func newApproveRulesetVersionCmd() *cobra.Command {
	var rulesetVersionID, remarks, by, environment, region, country string
	var fieldRegistryVersion int
	cmd := &cobra.Command{
		Use:   "approve-ruleset-version",
		Short: "Approve a pending ruleset version, publishing it if its rule type is publishable",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			var frv *int
			if fieldRegistryVersion > 0 {
				frv = &fieldRegistryVersion
			}
			v, a, m, err := c.approvals.ApproveRulesetVersion(cmd.Context(), rulesetVersionID, by, remarks, approval.PublishContext{
				Environment: environment, Region: region, Country: country, FieldRegistryVersion: frv,
			})
			if err != nil {
				return err
			}
			printJSON(map[string]any{"ruleset_version": v, "approval": a, "manifest": m})
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesetVersionID, "ruleset-version-id", "", "ruleset version id")
	cmd.Flags().StringVar(&remarks, "remarks", "", "checker remarks")
	cmd.Flags().StringVar(&by, "by", "", "checker identity")
	cmd.Flags().StringVar(&environment, "environment", "", "publish target environment")
	cmd.Flags().StringVar(&region, "region", "", "publish target region")
	cmd.Flags().StringVar(&country, "country", "", "publish target country")
	cmd.Flags().IntVar(&fieldRegistryVersion, "field-registry-version", 0, "pinned field registry version")
	return cmd
}

func newActivateRulesetCmd() *cobra.Command {
	var rulesetID, rulesetVersionID, by string
	cmd := &cobra.Command{
		Use:   "activate-ruleset",
		Short: "Activate an approved ruleset version, superseding the currently active one",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			v, err := c.approvals.ActivateRuleset(cmd.Context(), rulesetID, rulesetVersionID, by)
			if err != nil {
				return err
			}
			printJSON(v)
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesetID, "ruleset-id", "", "ruleset id")
	cmd.Flags().StringVar(&rulesetVersionID, "ruleset-version-id", "", "ruleset version id")
	cmd.Flags().StringVar(&by, "by", "", "actor identity")
	return cmd
}

func newPublishRegistryCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "publish-registry",
		Short: "Publish a new snapshot of the active field catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCLI(cmd.Context())
			if err != nil {
				return err
			}
			m, err := c.registry.PublishRegistry(cmd.Context(), by)
			if err != nil {
				return err
			}
			printJSON(m)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "actor identity")
	return cmd
}
