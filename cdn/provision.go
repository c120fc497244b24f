// Package cdn provisions production hosting for a site: an object-store
// bucket configured as a website, fronted by a CDN distribution whose
// domain becomes the site's production URL.
package cdn

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/charmbracelet/log"
)

// accessBlockAttempts and accessBlockPause bound the retry against the
// object store's eventual consistency: a freshly created bucket can 404 on
// the public-access-block call for a short while.
const (
	accessBlockAttempts = 3
	accessBlockPause    = 2 * time.Second
)

// S3API is the slice of the object-store API the provisioner uses.
type S3API interface {
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeletePublicAccessBlock(ctx context.Context, in *s3.DeletePublicAccessBlockInput, opts ...func(*s3.Options)) (*s3.DeletePublicAccessBlockOutput, error)
	PutBucketPolicy(ctx context.Context, in *s3.PutBucketPolicyInput, opts ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error)
	PutBucketWebsite(ctx context.Context, in *s3.PutBucketWebsiteInput, opts ...func(*s3.Options)) (*s3.PutBucketWebsiteOutput, error)
}

// CloudFrontAPI is the slice of the CDN API the provisioner uses.
type CloudFrontAPI interface {
	CreateDistribution(ctx context.Context, in *cloudfront.CreateDistributionInput, opts ...func(*cloudfront.Options)) (*cloudfront.CreateDistributionOutput, error)
}

// Result identifies the provisioned distribution.
type Result struct {
	DistributionID string
	Domain         string
}

// Options configures a Provisioner.
type Options struct {
	S3         S3API
	CloudFront CloudFrontAPI
	Region     string
	// Logger defaults to log.Default().
	Logger *log.Logger
	// Pause overrides the eventual-consistency retry pause in tests.
	Pause time.Duration
}

// Provisioner performs one-shot production-hosting setup for a site.
type Provisioner struct {
	s3     S3API
	cf     CloudFrontAPI
	region string
	logger *log.Logger
	pause  time.Duration
}

// New creates a Provisioner.
func New(opts Options) *Provisioner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	pause := opts.Pause
	if pause == 0 {
		pause = accessBlockPause
	}
	return &Provisioner{
		s3:     opts.S3,
		cf:     opts.CloudFront,
		region: opts.Region,
		logger: logger,
		pause:  pause,
	}
}

// NewFromConfig creates a Provisioner backed by real service clients.
func NewFromConfig(cfg aws.Config, logger *log.Logger) *Provisioner {
	return New(Options{
		S3:         s3.NewFromConfig(cfg),
		CloudFront: cloudfront.NewFromConfig(cfg),
		Region:     cfg.Region,
		Logger:     logger,
	})
}

// websiteEndpoint returns the bucket's website endpoint, which serves as
// the distribution origin.
func (p *Provisioner) websiteEndpoint(bucket string) string {
	return fmt.Sprintf("%s.s3-website-%s.amazonaws.com", bucket, p.region)
}

// ProvisionResult provisions the bucket and distribution for a site and
// returns both identifiers.
func (p *Provisioner) ProvisionResult(ctx context.Context, siteID string) (Result, error) {
	bucket := siteID

	if _, err := p.s3.CreateBucket(ctx, p.createBucketInput(bucket)); err != nil {
		return Result{}, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	p.logger.Info("created bucket", "bucket", bucket)

	if err := p.unblockPublicAccess(ctx, bucket); err != nil {
		return Result{}, err
	}

	policy := fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [{
    "Sid": "PublicReadGetObject",
    "Effect": "Allow",
    "Principal": "*",
    "Action": "s3:GetObject",
    "Resource": "arn:aws:s3:::%s/*"
  }]
}`, bucket)
	if _, err := p.s3.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(policy),
	}); err != nil {
		return Result{}, fmt.Errorf("put bucket policy for %q: %w", bucket, err)
	}

	if _, err := p.s3.PutBucketWebsite(ctx, &s3.PutBucketWebsiteInput{
		Bucket: aws.String(bucket),
		WebsiteConfiguration: &s3types.WebsiteConfiguration{
			IndexDocument: &s3types.IndexDocument{Suffix: aws.String("index.html")},
			ErrorDocument: &s3types.ErrorDocument{Key: aws.String("error.html")},
		},
	}); err != nil {
		return Result{}, fmt.Errorf("configure website for %q: %w", bucket, err)
	}

	result, err := p.createDistribution(ctx, siteID, bucket)
	if err != nil {
		return Result{}, err
	}
	p.logger.Info("created distribution",
		"site", siteID, "distribution", result.DistributionID, "domain", result.Domain)
	return result, nil
}

// Provision implements the session engine's Provisioner seam.
func (p *Provisioner) Provision(ctx context.Context, siteID string) (string, error) {
	result, err := p.ProvisionResult(ctx, siteID)
	if err != nil {
		return "", err
	}
	return result.Domain, nil
}

func (p *Provisioner) createBucketInput(bucket string) *s3.CreateBucketInput {
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if p.region != "" && p.region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}
	return in
}

// unblockPublicAccess removes the bucket's public-access block. A fresh
// bucket may not be visible yet, so the call is retried.
func (p *Provisioner) unblockPublicAccess(ctx context.Context, bucket string) error {
	var lastErr error
	for attempt := 1; attempt <= accessBlockAttempts; attempt++ {
		_, lastErr = p.s3.DeletePublicAccessBlock(ctx, &s3.DeletePublicAccessBlockInput{
			Bucket: aws.String(bucket),
		})
		if lastErr == nil {
			return nil
		}
		p.logger.Warn("delete public access block failed",
			"bucket", bucket, "attempt", attempt, "err", lastErr)
		if attempt < accessBlockAttempts {
			select {
			case <-time.After(p.pause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("delete public access block for %q: %w", bucket, lastErr)
}

func (p *Provisioner) createDistribution(ctx context.Context, siteID, bucket string) (Result, error) {
	originID := "s3-website-" + bucket
	config := &cftypes.DistributionConfig{
		CallerReference:   aws.String(fmt.Sprintf("sitekeeper-%s-%d", siteID, time.Now().Unix())),
		Comment:           aws.String("sitekeeper site " + siteID),
		Enabled:           aws.Bool(true),
		DefaultRootObject: aws.String("index.html"),
		Origins: &cftypes.Origins{
			Quantity: aws.Int32(1),
			Items: []cftypes.Origin{{
				Id:         aws.String(originID),
				DomainName: aws.String(p.websiteEndpoint(bucket)),
				CustomOriginConfig: &cftypes.CustomOriginConfig{
					HTTPPort:             aws.Int32(80),
					HTTPSPort:            aws.Int32(443),
					OriginProtocolPolicy: cftypes.OriginProtocolPolicyHttpOnly,
				},
			}},
		},
		DefaultCacheBehavior: &cftypes.DefaultCacheBehavior{
			TargetOriginId:       aws.String(originID),
			ViewerProtocolPolicy: cftypes.ViewerProtocolPolicyRedirectToHttps,
			MinTTL:               aws.Int64(0),
			ForwardedValues: &cftypes.ForwardedValues{
				QueryString: aws.Bool(false),
				Cookies:     &cftypes.CookiePreference{Forward: cftypes.ItemSelectionNone},
			},
			TrustedSigners: &cftypes.TrustedSigners{
				Enabled:  aws.Bool(false),
				Quantity: aws.Int32(0),
			},
		},
	}

	out, err := p.cf.CreateDistribution(ctx, &cloudfront.CreateDistributionInput{
		DistributionConfig: config,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create distribution for %q: %w", siteID, err)
	}
	return Result{
		DistributionID: aws.ToString(out.Distribution.Id),
		Domain:         aws.ToString(out.Distribution.DomainName),
	}, nil
}
