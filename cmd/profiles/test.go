package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"
	"github.com/stephnangue/profilebridge/cmd/helpers"
	"github.com/stephnangue/profilebridge/sso"
)

var (
	testRegion string

	TestCmd = &cobra.Command{
		Use:           "test <name>",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Check that a profile's credentials are accepted by AWS",
		Long: `
Usage: profilebridge profile test <name> [flags]

  Resolves the credentials of the profile, exchanging the SSO token when
  needed, and calls sts:GetCallerIdentity with them.
`,
		Args: cobra.ExactArgs(1),
		RunE: runTest,
	}
)

func init() {
	TestCmd.Flags().StringVar(&testRegion, "region", "", "Region of the STS endpoint (defaults to the profile region)")
}

func runTest(cmd *cobra.Command, args []string) error {
	conf, err := helpers.LoadConfig()
	if err != nil {
		return err
	}
	b, err := helpers.Broker()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := cmd.Context()
	p, err := b.Profile(ctx, args[0])
	if err != nil {
		return err
	}
	creds, err := b.ResolveCredentials(ctx, p.Name)
	if errors.Is(err, sso.ErrTokenMissingOrExpired) {
		return fmt.Errorf("the SSO session of %s has expired, run: aws sso login --profile %s", p.Name, p.Name)
	}
	if err != nil {
		return fmt.Errorf("error resolving credentials: %w", err)
	}

	region := testRegion
	if region == "" {
		region = p.Region
	}
	if region == "" {
		region = conf.SSO.DefaultRegion
	}

	identity, err := callerIdentity(ctx, *creds, region)
	if err != nil {
		return fmt.Errorf("credentials were rejected: %w", err)
	}
	helpers.PrintMapAsTable(cmd.OutOrStdout(), identity)
	return nil
}

func callerIdentity(ctx context.Context, creds sso.Credentials, region string) (map[string]any, error) {
	client := sts.New(sts.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)),
	})
	resp, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, err
	}
	identity := map[string]any{
		"account": aws.ToString(resp.Account),
		"arn":     aws.ToString(resp.Arn),
		"user_id": aws.ToString(resp.UserId),
	}
	if creds.CanExpire() {
		identity["expires"] = creds.Expires.Local().Format("2006-01-02 15:04:05 MST")
	}
	return identity, nil
}
