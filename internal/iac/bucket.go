package iac

import (
	"fmt"

	"github.com/pulumi/pulumi-gcp/sdk/v7/go/gcp/storage"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

// Built-in gcp-bucket blueprint: a single GCS bucket with optional object
// versioning, driven entirely by stack configuration.

func init() {
	RegisterProgram("gcp-bucket", gcpBucketProgram)
}

func gcpBucketProgram(ctx *pulumi.Context) error {
	cfg := config.New(ctx, "")

	bucketName := cfg.Require("bucket_name")

	location := cfg.Get("location")
	if location == "" {
		location = "US"
	}

	versioning := cfg.GetBool("versioning")

	bucket, err := storage.NewBucket(ctx, bucketName, &storage.BucketArgs{
		Name:     pulumi.String(bucketName),
		Location: pulumi.String(location),
		Versioning: &storage.BucketVersioningArgs{
			Enabled: pulumi.Bool(versioning),
		},
		ForceDestroy: pulumi.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}

	ctx.Export("bucket_name", bucket.Name)
	ctx.Export("url", pulumi.Sprintf("gs://%s", bucket.Name))
	ctx.Export("self_link", bucket.SelfLink)

	return nil
}
