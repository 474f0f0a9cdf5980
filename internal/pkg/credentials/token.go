package credentials

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// tokenPrefix is the scheme marker the EKS API server expects on
// bearer tokens minted from presigned STS requests.
const tokenPrefix = "k8s-aws-v1."

// clusterIDHeader names the EKS cluster a presigned identity request is
// scoped to. It must be part of the signed headers.
const clusterIDHeader = "x-k8s-aws-id"

// tokenExpirySeconds bounds how long a minted token stays valid.
const tokenExpirySeconds = "60"

// mintEKSToken builds a bearer token for an EKS cluster by presigning an
// STS GetCallerIdentity request with the supplied temporary credentials.
// Presigning is a local signature computation: no network call, no
// external process.
func mintEKSToken(ctx context.Context, clusterName, region string, creds *TemporaryCredentialSet) (string, error) {
	if clusterName == "" {
		return "", fmt.Errorf("cluster name required for token minting")
	}
	if region == "" {
		return "", fmt.Errorf("region required for token minting")
	}

	client := sts.New(sts.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(credentialsAdapter{set: creds}),
	})

	presigner := sts.NewPresignClient(client)
	req, err := presigner.PresignGetCallerIdentity(ctx, &sts.GetCallerIdentityInput{},
		func(po *sts.PresignOptions) {
			po.ClientOptions = append(po.ClientOptions,
				sts.WithAPIOptions(
					smithyhttp.SetHeaderValue(clusterIDHeader, clusterName),
					smithyhttp.SetHeaderValue("X-Amz-Expires", tokenExpirySeconds),
				),
			)
		})
	if err != nil {
		return "", fmt.Errorf("failed to presign identity request: %w", err)
	}

	return tokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(req.URL)), nil
}
