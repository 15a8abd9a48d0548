package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeline/latentpool/providers"
)

var (
	setupKeypair    string
	setupSecurity   string
	setupVpcCidr    string
	setupSubnetCidr string
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create deployment-time provider resources",
	Long: `Create the keypair, security group, and optionally the VPC and
subnet that worker specs reference. Run once per deployment; the
provisioning engine itself never creates these.`,
	Example: `  latentpool setup --keypair build-workers --security-group build-workers
  latentpool setup --keypair build-workers --security-group build-workers \
      --vpc-cidr 10.0.0.0/16 --subnet-cidr 10.0.1.0/24`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)

	setupCmd.Flags().StringVar(&setupKeypair, "keypair", "latent-worker", "Keypair name to create")
	setupCmd.Flags().StringVar(&setupSecurity, "security-group", "latent-worker", "Security group name to create")
	setupCmd.Flags().StringVar(&setupVpcCidr, "vpc-cidr", "", "Create a VPC with this CIDR block")
	setupCmd.Flags().StringVar(&setupSubnetCidr, "subnet-cidr", "", "Create a subnet with this CIDR block (requires --vpc-cidr)")
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	setup, ok := rt.provider.(providers.SetupProvider)
	if !ok {
		return fmt.Errorf("provider %s does not support setup operations", rt.provider.Name())
	}

	if setupSubnetCidr != "" && setupVpcCidr == "" {
		return fmt.Errorf("--subnet-cidr requires --vpc-cidr")
	}

	if err := setup.CreateKeyPair(ctx, setupKeypair); err != nil {
		return err
	}
	fmt.Printf("🔑 Keypair: %s\n", setupKeypair)

	var vpcID string
	if setupVpcCidr != "" {
		vpcID, err = setup.CreateVpc(ctx, setupVpcCidr)
		if err != nil {
			return err
		}
		fmt.Printf("🌐 VPC: %s (%s)\n", vpcID, setupVpcCidr)

		if setupSubnetCidr != "" {
			subnetID, err := setup.CreateSubnet(ctx, vpcID, setupSubnetCidr)
			if err != nil {
				return err
			}
			fmt.Printf("   Subnet: %s (%s)\n", subnetID, setupSubnetCidr)
		}
	}

	groupID, err := setup.CreateSecurityGroup(ctx, setupSecurity, "latent worker pool", vpcID)
	if err != nil {
		return err
	}
	fmt.Printf("🛡️  Security group: %s (%s)\n", setupSecurity, groupID)

	return nil
}
