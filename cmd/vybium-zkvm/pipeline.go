package main

import (
	"fmt"

	"github.com/spf13/cobra"

	zkvm "github.com/vybium/vybium-zkvm/pkg/vybium-zkvm"
)

var (
	pipelineInput     inputFlags
	pipelineVerifyCfg string
)

func init() {
	pipelineCmd.Flags().StringVar(&buildOpts.Profile, "profile", buildOpts.Profile, "Build profile (release or debug).")
	pipelineCmd.Flags().StringVar(&buildTarget, "target", "", "Target name.")
	pipelineCmd.Flags().StringVar(&buildKind, "kind", "", "Target kind (bin or example).")
	pipelineCmd.Flags().StringVar(&pipelineVerifyCfg, "verify-config", "", "Derive the verifying key from this app config instead of --config.")
	pipelineInput.register(pipelineCmd)
	rootCmd.AddCommand(pipelineCmd)
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline <guest-dir>",
	Short: "Run every stage from build to verify",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appConfig()
		if err != nil {
			return err
		}
		in, err := pipelineInput.stdin()
		if err != nil {
			return err
		}
		req := zkvm.PipelineRequest{
			PackageDir: args[0],
			Options:    buildOpts,
			Filter:     targetFilter(),
			App:        app,
			Input:      in,
		}
		if pipelineVerifyCfg != "" {
			other, err := zkvm.LoadAppConfig(pipelineVerifyCfg)
			if err != nil {
				return err
			}
			req.VerifyConfig = &other
		}

		report, err := sdk.RunPipeline(cmd.Context(), req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "image      %s\n", report.ImageDigest.Hex())
		fmt.Fprintf(out, "commitment %s\n", report.Commitment.Hex())
		fmt.Fprintf(out, "key        %s\n", report.KeyDigest.Hex())
		fmt.Fprintf(out, "output     %s\n", report.Output.Hex())
		fmt.Fprintf(out, "cycles     %d\n", report.Cycles)
		fmt.Fprintf(out, "proof      %d bytes\n", report.ProofSize)
		fmt.Fprintf(out, "verdict    %s\n", report.Verdict)
		return report.Verdict.Err()
	},
}
