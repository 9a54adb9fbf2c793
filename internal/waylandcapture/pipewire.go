package waylandcapture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

var gstInitOnce sync.Once

func initGst() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// rawFrame is a single decoded RGBA frame pulled off the appsink, plus the
// width/height GStreamer negotiated for the stream (spec §4.5 step 8:
// "dimensions come from format negotiation when available").
type rawFrame struct {
	pixels []byte
	width  int
	height int
}

// captureOneFrame opens a pipewiresrc -> videoconvert -> appsink pipeline
// against nodeID and returns the first delivered buffer, following the
// teacher-adjacent go-gst idiom (appsink callbacks, bus-driven teardown)
// generalized to a single-shot capture instead of a streaming pipeline.
func captureOneFrame(ctx context.Context, nodeID uint32, frameTimeout, iterationBudget time.Duration) (rawFrame, error) {
	initGst()

	pipelineStr := fmt.Sprintf(
		"pipewiresrc path=%d ! videoconvert ! video/x-raw,format=RGBA ! appsink name=sink emit-signals=true max-buffers=1 drop=true sync=false",
		nodeID,
	)
	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return rawFrame{}, fmt.Errorf("pipewire pipeline parse: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return rawFrame{}, fmt.Errorf("pipewire pipeline: missing sink element: %w", err)
	}
	sink := app.SinkFromElement(elem)
	if sink == nil {
		return rawFrame{}, fmt.Errorf("pipewire pipeline: sink element is not an appsink")
	}

	frameCh := make(chan rawFrame, 1)
	var once sync.Once
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			sample := s.PullSample()
			if sample == nil {
				return gst.FlowOK
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				return gst.FlowOK
			}
			mapInfo := buffer.Map(gst.MapRead)
			if mapInfo == nil {
				return gst.FlowOK
			}
			data := make([]byte, len(mapInfo.Bytes()))
			copy(data, mapInfo.Bytes())
			buffer.Unmap()

			w, h := 0, 0
			if caps := sample.GetCaps(); caps != nil && caps.GetSize() > 0 {
				st := caps.GetStructureAt(0)
				if wv, err := st.GetValue("width"); err == nil {
					if wi, ok := wv.(int); ok {
						w = wi
					}
				}
				if hv, err := st.GetValue("height"); err == nil {
					if hi, ok := hv.(int); ok {
						h = hi
					}
				}
			}

			once.Do(func() {
				frameCh <- rawFrame{pixels: data, width: w, height: h}
			})
			return gst.FlowEOS
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return rawFrame{}, fmt.Errorf("pipewire pipeline: failed to start: %w", err)
	}

	deadline := time.NewTimer(frameTimeout)
	defer deadline.Stop()

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return rawFrame{}, fmt.Errorf("pipewire frame capture: %w", ctx.Err())
		case <-deadline.C:
			return rawFrame{}, fmt.Errorf("pipewire frame capture: no frame within %s", frameTimeout)
		case f := <-frameCh:
			return f, nil
		default:
			if bus != nil {
				if msg := bus.TimedPop(gst.ClockTime(iterationBudget)); msg != nil {
					if msg.Type() == gst.MessageError {
						if gerr := msg.ParseError(); gerr != nil {
							return rawFrame{}, fmt.Errorf("pipewire pipeline error: %w", gerr)
						}
					}
				}
			}
		}
	}
}
