package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/artifacts"
	zkvm "github.com/vybium/vybium-zkvm/pkg/vybium-zkvm"
)

var (
	buildOpts     = zkvm.DefaultGuestOptions()
	buildTarget   string
	buildKind     string
	buildOut      string
	elfFile       string
	exeFile       string
	committedOut  string
	verifyAgainst string
	pkFile        string
	vkFile        string
	proofFile     string
	runInput      inputFlags
	proveInput    inputFlags
)

func init() {
	buildCmd.Flags().StringVar(&buildOpts.Profile, "profile", buildOpts.Profile, "Build profile (release or debug).")
	buildCmd.Flags().StringSliceVar(&buildOpts.Features, "features", nil, "Guest features to enable.")
	buildCmd.Flags().StringVar(&buildOpts.TargetDir, "target-dir", "", "Also copy the image under this directory.")
	buildCmd.Flags().StringVar(&buildTarget, "target", "", "Target name.")
	buildCmd.Flags().StringVar(&buildKind, "kind", "", "Target kind (bin or example).")
	buildCmd.Flags().StringVar(&buildOut, "out", "guest.elf", "Output ELF image.")

	transpileCmd.Flags().StringVar(&elfFile, "elf", "guest.elf", "Guest ELF image.")
	transpileCmd.Flags().StringVar(&exeFile, "out", "guest.vmexe", "Output executable.")

	runCmd.Flags().StringVar(&exeFile, "exe", "guest.vmexe", "Executable to run.")
	runInput.register(runCmd)

	commitCmd.Flags().StringVar(&exeFile, "exe", "guest.vmexe", "Executable to commit.")
	commitCmd.Flags().StringVar(&committedOut, "out", "guest.committed", "Output committed executable.")

	keygenCmd.Flags().StringVar(&pkFile, "pk", "app.pk", "Output proving key.")
	keygenCmd.Flags().StringVar(&vkFile, "vk", "app.vk", "Output verifying key.")

	proveCmd.Flags().StringVar(&pkFile, "pk", "app.pk", "Proving key.")
	proveCmd.Flags().StringVar(&committedOut, "committed", "guest.committed", "Committed executable.")
	proveCmd.Flags().StringVar(&proofFile, "proof", "guest.proof", "Output proof.")
	proveInput.register(proveCmd)

	verifyCmd.Flags().StringVar(&vkFile, "vk", "app.vk", "Verifying key.")
	verifyCmd.Flags().StringVar(&proofFile, "proof", "guest.proof", "Proof to verify.")
	verifyCmd.Flags().StringVar(&verifyAgainst, "committed", "", "Also require the proof to be about this committed executable.")

	rootCmd.AddCommand(buildCmd, transpileCmd, runCmd, commitCmd, keygenCmd, proveCmd, verifyCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build <guest-dir>",
	Short: "Compile a guest package target to an ELF image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		built, err := sdk.Build(cmd.Context(), buildOpts, args[0], targetFilter())
		if err != nil {
			return err
		}
		if err := artifacts.Save(buildOut, built.Bytes()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", built.Digest().Hex(), buildOut)
		return nil
	},
}

func targetFilter() *zkvm.TargetFilter {
	if buildTarget == "" && buildKind == "" {
		return nil
	}
	return &zkvm.TargetFilter{Name: buildTarget, Kind: zkvm.TargetKind(buildKind)}
}

var transpileCmd = &cobra.Command{
	Use:   "transpile",
	Short: "Transpile an ELF image into a VM executable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appConfig()
		if err != nil {
			return err
		}
		image, err := os.ReadFile(elfFile)
		if err != nil {
			return err
		}
		transpiled, err := sdk.Transpile(zkvm.BuiltFromImage(elfFile, image), app.Vm)
		if err != nil {
			return err
		}
		return artifacts.SaveExecutable(exeFile, transpiled.Executable())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a VM executable without proving",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appConfig()
		if err != nil {
			return err
		}
		transpiled, err := loadTranspiled(app)
		if err != nil {
			return err
		}
		in, err := runInput.stdin()
		if err != nil {
			return err
		}
		result, err := sdk.Execute(transpiled.Executable(), app.Vm, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "output %s (%d cycles)\n", result.Output.Hex(), result.Cycles)
		return nil
	},
}

func loadTranspiled(app zkvm.AppConfig) (*zkvm.Transpiled, error) {
	exe, err := artifacts.LoadExecutable(exeFile)
	if err != nil {
		return nil, err
	}
	return zkvm.TranspiledFrom(exe, app.Vm)
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit a VM executable under the configured parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appConfig()
		if err != nil {
			return err
		}
		transpiled, err := loadTranspiled(app)
		if err != nil {
			return err
		}
		committed, err := sdk.Commit(app.Params, transpiled)
		if err != nil {
			return err
		}
		if err := artifacts.SaveCommittedExe(committedOut, committed.CommittedExe()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), committed.Commitment().Hex())
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the proving and verifying keys of the app config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appConfig()
		if err != nil {
			return err
		}
		keys, err := sdk.Keygen(app)
		if err != nil {
			return err
		}
		if err := artifacts.SaveProvingKey(pkFile, keys.ProvingKey()); err != nil {
			return err
		}
		return artifacts.SaveVerifyingKey(vkFile, keys.VerifyingKey())
	},
}

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Prove an execution of a committed executable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pk, err := artifacts.LoadProvingKey(pkFile)
		if err != nil {
			return err
		}
		committed, err := artifacts.LoadCommittedExe(committedOut)
		if err != nil {
			return err
		}
		in, err := proveInput.stdin()
		if err != nil {
			return err
		}
		proved, err := sdk.Prove(cmd.Context(), zkvm.KeysFrom(pk), zkvm.CommittedFrom(committed), in)
		if err != nil {
			return err
		}
		if err := artifacts.Save(proofFile, proved.Bytes()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "output %s, proof %d bytes\n", proved.PublicOutput().Hex(), len(proved.Bytes()))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a proof; exits 2 on reject",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		vk, err := artifacts.LoadVerifyingKey(vkFile)
		if err != nil {
			return err
		}
		encoded, err := os.ReadFile(proofFile)
		if err != nil {
			return err
		}
		var verdict zkvm.Verdict
		if verifyAgainst != "" {
			committed, err := artifacts.LoadCommittedExe(verifyAgainst)
			if err != nil {
				return err
			}
			proof, err := zkvm.DecodeProof(encoded)
			if err != nil {
				verdict = sdk.VerifyBytes(vk, encoded)
			} else {
				verdict = sdk.VerifyCommitted(vk, zkvm.CommittedFrom(committed), proof)
			}
		} else {
			verdict = sdk.VerifyBytes(vk, encoded)
		}
		fmt.Fprintln(cmd.OutOrStdout(), verdict)
		return verdict.Err()
	},
}
