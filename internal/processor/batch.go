// internal/processor/batch.go
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"fieldgate/internal/model"
	"fieldgate/internal/protocol"
	"fieldgate/pkg/driver"
)

// batchOperation selects which direction(s) a batch request moves data in.
type batchOperation string

const (
	opRead      batchOperation = "read"
	opWrite     batchOperation = "write"
	opReadWrite batchOperation = "readWrite"
)

type batchPoint struct {
	Address string           `json:"address"`
	Type    model.DataType   `json:"type,omitempty"`
	Access  model.AccessMode `json:"access,omitempty"`
	Value   interface{}      `json:"value,omitempty"`
}

type batchOptions struct {
	Parallel    bool `json:"parallel"`
	StopOnError bool `json:"stopOnError"`
}

type batchRequest struct {
	DeviceID  string         `json:"deviceId"`
	Operation batchOperation `json:"operation,omitempty"`
	Points    []batchPoint   `json:"points"`
	Options   batchOptions   `json:"options"`
}

type batchResult struct {
	DeviceID     string               `json:"deviceId"`
	Operation    batchOperation       `json:"operation"`
	ReadResults  []driver.PointResult `json:"readResults,omitempty"`
	WriteResults []driver.PointResult `json:"writeResults,omitempty"`
	SuccessCount int                  `json:"successCount"`
	FailureCount int                  `json:"failureCount"`
}

// handleBatch runs readBatch and writeBatch. The command picks the default
// operation; the payload may override it, including to readWrite, which
// partitions the points by access mode and runs both sets concurrently.
func (p *Processor) handleBatch(ctx context.Context, payload json.RawMessage, defaultAccess model.AccessMode) (interface{}, *protocol.ErrorResponse) {
	var req batchRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.DeviceID == "" {
		return nil, badPayload("deviceId is required", err)
	}
	if len(req.Points) == 0 {
		return nil, badPayload("points must not be empty", nil)
	}
	if errResp := p.checkBatchSize(len(req.Points)); errResp != nil {
		return nil, errResp
	}

	if req.Operation == "" {
		if defaultAccess == model.AccessWrite {
			req.Operation = opWrite
		} else {
			req.Operation = opRead
		}
	}

	readSet, writeSet, errResp := partition(req)
	if errResp != nil {
		return nil, errResp
	}

	// Writes are pre-validated in full before any device I/O.
	writes, errResp := convertBatchWrites(writeSet)
	if errResp != nil {
		return nil, errResp
	}

	result := batchResult{DeviceID: req.DeviceID, Operation: req.Operation}

	var wg sync.WaitGroup
	if len(readSet) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.ReadResults = p.runReads(ctx, req.DeviceID, readSet, req.Options)
		}()
	}
	if len(writes) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.WriteResults = p.runWrites(ctx, req.DeviceID, writes, req.Options)
		}()
	}
	wg.Wait()

	for _, r := range result.ReadResults {
		if r.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}
	for _, r := range result.WriteResults {
		if r.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}

	return result, nil
}

// partition splits the points into a read set and a write set according to
// the requested operation. Access modes only matter for readWrite; a point
// marked READ_WRITE joins the read set always and the write set when it
// carries a value.
func partition(req batchRequest) (readSet, writeSet []batchPoint, errResp *protocol.ErrorResponse) {
	switch req.Operation {
	case opRead:
		return req.Points, nil, nil
	case opWrite:
		return nil, req.Points, nil
	case opReadWrite:
		for _, pt := range req.Points {
			switch pt.Access {
			case model.AccessRead, "":
				readSet = append(readSet, pt)
			case model.AccessWrite:
				writeSet = append(writeSet, pt)
			case model.AccessReadWrite:
				readSet = append(readSet, pt)
				if pt.Value != nil {
					writeSet = append(writeSet, pt)
				}
			default:
				return nil, nil, badPayload(
					fmt.Sprintf("unknown access mode %q for address %s", pt.Access, pt.Address), nil)
			}
		}
		return readSet, writeSet, nil
	default:
		return nil, nil, badPayload(
			fmt.Sprintf("unknown operation %q, expected read, write or readWrite", req.Operation), nil)
	}
}

// convertBatchWrites converts every pending write up front. A missing value
// or a failed conversion rejects the whole request before any device I/O.
func convertBatchWrites(points []batchPoint) ([]driver.WritePoint, *protocol.ErrorResponse) {
	writes := make([]driver.WritePoint, 0, len(points))
	for _, pt := range points {
		if pt.Value == nil {
			return nil, protocol.NewError(
				protocol.CodeMissingValue,
				protocol.ErrorTypeValidation,
				"write point is missing a value",
				fmt.Sprintf("address %s has no value", pt.Address),
			)
		}

		targetType := pt.Type
		if targetType == "" {
			targetType = inferType(pt.Value)
		}

		v, err := model.Convert(pt.Value, targetType)
		if err != nil {
			return nil, protocol.NewError(
				protocol.CodeConversionFailed,
				protocol.ErrorTypeValidation,
				"write value conversion failed",
				fmt.Sprintf("address %s: %v", pt.Address, err),
			)
		}
		writes = append(writes, driver.WritePoint{Address: pt.Address, Value: v})
	}
	return writes, nil
}

// convertWritePoints is the same pre-validation for the plain write command.
func convertWritePoints(points []writePoint) ([]driver.WritePoint, *protocol.ErrorResponse) {
	batch := make([]batchPoint, len(points))
	for i, pt := range points {
		batch[i] = batchPoint{Address: pt.Address, Type: pt.Type, Value: pt.Value}
	}
	return convertBatchWrites(batch)
}

// runReads executes the read set and coerces each successful result to the
// point's requested data type. A coercion failure fails that point only.
func (p *Processor) runReads(ctx context.Context, deviceID string, points []batchPoint, opts batchOptions) []driver.PointResult {
	types := make(map[string]model.DataType, len(points))
	for _, pt := range points {
		if pt.Type != "" {
			types[pt.Address] = pt.Type
		}
	}

	addresses := make([]string, len(points))
	for i, pt := range points {
		addresses[i] = pt.Address
	}

	var results []driver.PointResult
	switch {
	case opts.Parallel:
		results = make([]driver.PointResult, len(addresses))
		var wg sync.WaitGroup
		for i, addr := range addresses {
			wg.Add(1)
			go func(i int, addr string) {
				defer wg.Done()
				results[i] = p.devices.ReadDeviceData(ctx, deviceID, []string{addr})[0]
			}(i, addr)
		}
		wg.Wait()
	case opts.StopOnError:
		results = make([]driver.PointResult, 0, len(addresses))
		stopped := false
		for _, addr := range addresses {
			if stopped {
				results = append(results, driver.BadResult(addr, model.QualityBad, errSkipped))
				continue
			}
			r := p.devices.ReadDeviceData(ctx, deviceID, []string{addr})[0]
			results = append(results, r)
			if !r.Success {
				stopped = true
			}
		}
	default:
		results = p.devices.ReadDeviceData(ctx, deviceID, addresses)
	}

	for i := range results {
		results[i] = coerceResult(results[i], types[results[i].Address])
	}
	return results
}

// runWrites executes the pre-validated write set.
func (p *Processor) runWrites(ctx context.Context, deviceID string, writes []driver.WritePoint, opts batchOptions) []driver.PointResult {
	switch {
	case opts.Parallel:
		results := make([]driver.PointResult, len(writes))
		var wg sync.WaitGroup
		for i, w := range writes {
			wg.Add(1)
			go func(i int, w driver.WritePoint) {
				defer wg.Done()
				results[i] = p.devices.WriteDeviceData(ctx, deviceID, []driver.WritePoint{w})[0]
			}(i, w)
		}
		wg.Wait()
		return results
	case opts.StopOnError:
		results := make([]driver.PointResult, 0, len(writes))
		stopped := false
		for _, w := range writes {
			if stopped {
				results = append(results, driver.BadResult(w.Address, model.QualityBad, errSkipped))
				continue
			}
			r := p.devices.WriteDeviceData(ctx, deviceID, []driver.WritePoint{w})[0]
			results = append(results, r)
			if !r.Success {
				stopped = true
			}
		}
		return results
	default:
		return p.devices.WriteDeviceData(ctx, deviceID, writes)
	}
}

var errSkipped = errors.New("skipped after earlier failure")

// coerceResult converts a successful read to the requested data type.
func coerceResult(r driver.PointResult, target model.DataType) driver.PointResult {
	if !r.Success || r.Value == nil || target == "" || r.Value.Type == target {
		return r
	}
	converted, err := model.Convert(r.Value.Interface(), target)
	if err != nil {
		return driver.BadResult(r.Address, model.QualityBad,
			fmt.Errorf("conversion to %s failed: %w", target, err))
	}
	r.Value = &converted
	return r
}

// inferType maps a decoded JSON scalar to the closest wire data type.
func inferType(v interface{}) model.DataType {
	switch val := v.(type) {
	case bool:
		return model.TypeBool
	case string:
		return model.TypeString
	case float64:
		if val == float64(int64(val)) {
			return model.TypeInt64
		}
		return model.TypeDouble
	default:
		return model.TypeString
	}
}

// resultPayload wraps plain read/write results with their tallies.
func resultPayload(deviceID string, results []driver.PointResult) map[string]interface{} {
	success, failure := 0, 0
	for _, r := range results {
		if r.Success {
			success++
		} else {
			failure++
		}
	}
	return map[string]interface{}{
		"deviceId":     deviceID,
		"results":      results,
		"successCount": success,
		"failureCount": failure,
	}
}
