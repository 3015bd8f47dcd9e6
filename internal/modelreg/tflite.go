package modelreg

import (
	"context"
	"fmt"
	"os"
	"sync"

	tflite "github.com/tphakala/go-tflite"

	"github.com/lox/sensorfault/internal/features"
	"github.com/lox/sensorfault/internal/schema"
)

// TFLiteModel runs a TensorFlow Lite classifier that takes the family's
// feature vector as a float32 input tensor and emits one score per class.
// The interpreter is not safe for concurrent use, so calls are serialized.
type TFLiteModel struct {
	mu      sync.Mutex
	family  schema.Family
	model   *tflite.Model
	options *tflite.InterpreterOptions
	interp  *tflite.Interpreter
	labels  []string
}

func LoadTFLite(family schema.Family, path string, labels []string, threads int) (*TFLiteModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, fmt.Errorf("cannot load TensorFlow Lite model %s", path)
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(max(1, threads))

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("cannot create interpreter for %s", path)
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("tensor allocation failed for %s", path)
	}

	m := &TFLiteModel{
		family:  family,
		model:   model,
		options: options,
		interp:  interp,
		labels:  labels,
	}
	if err := m.checkInput(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *TFLiteModel) checkInput() error {
	input := m.interp.GetInputTensor(0)
	if input == nil {
		return fmt.Errorf("cannot get input tensor")
	}
	want := len(schema.Expected(m.family))
	if got := len(input.Float32s()); got < want {
		return fmt.Errorf("%s model input holds %d values, schema needs %d", m.family, got, want)
	}
	return nil
}

func (m *TFLiteModel) Predict(_ context.Context, vec []float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interp == nil {
		return "", fmt.Errorf("%s model is closed", m.family)
	}

	input := m.interp.GetInputTensor(0)
	if input == nil {
		return "", fmt.Errorf("cannot get input tensor")
	}
	buf := input.Float32s()
	if len(buf) < len(vec) {
		return "", fmt.Errorf("input tensor does not have enough capacity")
	}
	copy(buf, features.Vector(vec).Float32s())

	if status := m.interp.Invoke(); status != tflite.OK {
		return "", fmt.Errorf("tensor invoke failed")
	}

	output := m.interp.GetOutputTensor(0)
	if output == nil {
		return "", fmt.Errorf("cannot get output tensor")
	}
	size := output.Dim(output.NumDims() - 1)
	scores := make([]float32, size)
	copy(scores, output.Float32s())

	return pickLabel(scores, m.labels)
}

func (m *TFLiteModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interp != nil {
		m.interp.Delete()
		m.interp = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
	return nil
}
