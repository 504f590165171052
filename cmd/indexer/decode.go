package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lendingScope/internal/config"
	"lendingScope/internal/decoder"
	"lendingScope/internal/model"
	"lendingScope/internal/storage"
)

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw events from JSONL without touching the store",
		RunE:  runDecode,
	}

	cmd.Flags().String("in", "", "input JSONL of raw events")
	cmd.Flags().String("out", "./data/events.jsonl", "output JSONL of decoded event records")
	cmd.Flags().String("errors", "./data/decode_errors.jsonl", "output JSONL of decode errors")
	cmd.Flags().String("selector-map", "", "extra selector->event mappings (comma-separated key=value)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	dec, err := decoder.New(cfg.SelectorMap)
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	outWriter, err := storage.CreateJSONL(cfg.Out, false)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := storage.CreateJSONL(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Int("selectors", len(dec.Selectors())),
	)

	stats, err := decodeStream(inputFile, dec, outWriter, errWriter, logger)
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", stats.total),
		zap.Int("decoded", stats.decoded),
		zap.Int("skipped", stats.skipped),
		zap.Int("failed", stats.failed),
	)
	return nil
}

type decodeStats struct {
	total, decoded, skipped, failed int
}

// recordWriter is satisfied by storage.JSONLWriter.
type recordWriter interface {
	Write(value any) error
}

func decodeStream(in io.Reader, dec *decoder.Decoder, out, errs recordWriter, logger *zap.Logger) (decodeStats, error) {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var stats decodeStats
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.total++

		var raw model.RawEvent
		if err := json.Unmarshal(line, &raw); err != nil {
			stats.failed++
			writeDecodeError(errs, model.DecodeError{Error: err.Error()})
			continue
		}

		event, err := dec.Decode(raw)
		if err != nil {
			stats.failed++
			writeDecodeError(errs, decodeErrorFromRaw(raw, err))
			continue
		}
		if u, ok := event.(model.Unrecognized); ok {
			stats.skipped++
			logger.Debug("unrecognized selector",
				zap.String("selector", u.Selector),
				zap.String("tx_hash", raw.TransactionHash),
			)
			continue
		}

		record, _, err := model.RecordOf(event)
		if err != nil {
			stats.failed++
			writeDecodeError(errs, decodeErrorFromRaw(raw, err))
			continue
		}
		if err := out.Write(record); err != nil {
			return stats, err
		}
		stats.decoded++
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}
	return stats, nil
}

func decodeErrorFromRaw(raw model.RawEvent, err error) model.DecodeError {
	selector := ""
	if len(raw.Keys) > 0 {
		selector = raw.Keys[0]
	}

	return model.DecodeError{
		BlockNumber: raw.BlockNumber,
		TxHash:      raw.TransactionHash,
		LogIndex:    raw.LogIndex,
		FromAddress: raw.FromAddress,
		Selector:    selector,
		Error:       err.Error(),
	}
}

func writeDecodeError(writer recordWriter, errRecord model.DecodeError) {
	if writer == nil {
		return
	}
	_ = writer.Write(errRecord)
}
