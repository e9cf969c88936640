// Command fhirctl is the operator CLI for this server: validating a
// resource configuration bundle offline, printing the conformance
// statement it would produce, and running a search-expression translation
// against a sample query string. §1 of spec.md names the terminal CLI an
// out-of-scope external collaborator; this command is a thin consumer of
// the core library, not part of the core itself.
//
// Grounded on cmd/gofhir's cobra.Command tree shape (a root command,
// one subcommand per verb, flags read with cmd.Flags()).
package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/fhircore/server/internal/conformance"
	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/operations"
	"github.com/fhircore/server/internal/resources"
	"github.com/fhircore/server/internal/search"
	"github.com/fhircore/server/internal/searchparams"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fhirctl",
		Short: "Operator tooling for the FHIR core server",
	}
	root.AddCommand(newValidateConfigCmd())
	root.AddCommand(newConformanceCmd())
	root.AddCommand(newSearchCmd())
	return root
}

func newValidateConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config [resource-config.json]",
		Short: "Validate a Resource Registry configuration document offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			reg, err := resources.Load(doc)
			if err != nil {
				return err
			}
			for _, rt := range reg.EnabledResourceTypes() {
				fmt.Println(rt)
			}
			return nil
		},
	}
	return cmd
}

func newConformanceCmd() *cobra.Command {
	var versionFlag string
	cmd := &cobra.Command{
		Use:   "conformance [resource-config.json] [base-searchparams.json]",
		Short: "Print the CapabilityStatement this configuration would produce",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceDoc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			baseDoc, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			resourceRegistry, err := resources.Load(resourceDoc)
			if err != nil {
				return err
			}
			paramRegistry, err := searchparams.Load(baseDoc, nil, resourceRegistry)
			if err != nil {
				return err
			}
			version, ok := model.ParseVersion(versionFlag)
			if !ok {
				return fmt.Errorf("unsupported FHIR version %q", versionFlag)
			}
			gen := conformance.New(resourceRegistry, paramRegistry, operations.New())
			stmt := gen.Generate(version)
			fmt.Printf("%+v\n", stmt)
			return nil
		},
	}
	cmd.Flags().StringVarP(&versionFlag, "version", "v", "R5", "FHIR version (R5, R4B)")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var resourceType, rawQuery string
	cmd := &cobra.Command{
		Use:   "search-translate [resource-config.json] [base-searchparams.json]",
		Short: "Translate a search query string into its SQL WHERE fragment, without running it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceDoc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			baseDoc, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			resourceRegistry, err := resources.Load(resourceDoc)
			if err != nil {
				return err
			}
			paramRegistry, err := searchparams.Load(baseDoc, nil, resourceRegistry)
			if err != nil {
				return err
			}
			query, err := url.ParseQuery(rawQuery)
			if err != nil {
				return err
			}
			translator := search.New(paramRegistry)
			q, err := translator.Translate(resourceType, query)
			if err != nil {
				return err
			}
			fmt.Printf("WHERE %s  -- args=%v limit=%d offset=%d\n", q.Where, q.Args, q.Limit, q.Offset)
			return nil
		},
	}
	cmd.Flags().StringVarP(&resourceType, "type", "t", "", "resource type the query applies to")
	cmd.Flags().StringVarP(&rawQuery, "query", "q", "", "URL-encoded search query string")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}
