// Package swupdate defines the shared types and helpers used across the A/B
// software update codebase: destination regions, the tagged error model,
// logging configuration and the bounded task runner. The update pipeline
// itself lives in subpackages: memmap (bank configuration), archive (update
// archive index/manifest resolution), fs (destination block writes), verify
// (RSA-PSS verification of written regions) and update (the driver composing
// them under a chosen execution strategy). aws_s3 stages update archives
// from object storage onto the local filesystem.
package swupdate
