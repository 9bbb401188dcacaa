// bytefold is the command-line front end for the archive engine: it
// opens a ZIP/TAR (optionally gzip/bzip2/xz/zstd-wrapped) file through
// pkg/archive/facade and either audits it (printing an AuditReport) or
// normalizes it into a deterministic copy (printing a NormalizeReport
// to stderr and writing the rewritten archive to the output path given
// on the command line).
//
// Modeled on the teacher's cmd/bb_copy and cmd/rerun_action: no flag
// package, a fixed positional-argument usage string, log.Fatal on any
// failure rather than a layered error-reporting CLI framework.
package main

import (
	"context"
	"log"
	"os"

	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/audit"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/facade"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/normalize"
	"github.com/Ismail-elkorchi/bytefold-sub000/pkg/archive/substrate"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: bytefold audit|normalize archive_path [output_path]")
	}
	command := os.Args[1]
	inputPath := os.Args[2]

	ctx := context.Background()
	sub, err := substrate.NewFile(inputPath)
	if err != nil {
		log.Fatalf("Failed to open %s: %s", inputPath, err)
	}
	defer sub.Close()

	reader, err := facade.OpenArchive(ctx, sub, archive.OpenOptions{Profile: archive.ProfileStrict})
	if err != nil {
		log.Fatalf("Failed to open archive %s: %s", inputPath, err)
	}
	defer reader.Close()

	switch command {
	case "audit":
		runAudit(ctx, reader)
	case "normalize":
		if len(os.Args) != 4 {
			log.Fatal("Usage: bytefold normalize archive_path output_path")
		}
		runNormalize(ctx, reader, os.Args[3])
	default:
		log.Fatalf("Unknown command %q: expected audit or normalize", command)
	}
}

func runAudit(ctx context.Context, reader facade.ArchiveReader) {
	rep, err := audit.Audit(ctx, reader, archive.AuditOptions{Profile: archive.ProfileStrict})
	if err != nil {
		log.Fatalf("Audit failed: %s", err)
	}
	out, err := rep.ToJSON()
	if err != nil {
		log.Fatalf("Failed to render audit report: %s", err)
	}
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
	if err := audit.AssertSafe(rep); err != nil {
		os.Exit(1)
	}
}

func runNormalize(ctx context.Context, reader facade.ArchiveReader, outputPath string) {
	out, err := os.Create(outputPath)
	if err != nil {
		log.Fatalf("Failed to create %s: %s", outputPath, err)
	}
	defer out.Close()

	rep, err := normalize.Normalize(ctx, reader, reader.Format(), facade.Registry, out, archive.DefaultNormalizeOptions())
	if err != nil {
		log.Fatalf("Normalize failed: %s", err)
	}
	reportJSON, err := rep.ToJSON()
	if err != nil {
		log.Fatalf("Failed to render normalize report: %s", err)
	}
	os.Stderr.Write(reportJSON)
	os.Stderr.Write([]byte("\n"))
}
