package vid

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Video is a FrameSource backed by an OpenCV capture.
type Video struct {
	capture  *gocv.VideoCapture
	duration float64
	width    int
	height   int

	frame gocv.Mat
	thumb gocv.Mat
	out   gocv.Mat
}

func OpenVideo(path string) (*Video, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	count := capture.Get(gocv.VideoCaptureFrameCount)
	v := &Video{
		capture: capture,
		width:   int(capture.Get(gocv.VideoCaptureFrameWidth)),
		height:  int(capture.Get(gocv.VideoCaptureFrameHeight)),
		frame:   gocv.NewMat(),
		thumb:   gocv.NewMat(),
		out:     gocv.NewMat(),
	}
	if fps > 0 {
		v.duration = count / fps
	}
	slog.Debug("OpenVideo: opened", "path", path, "duration", v.duration, "dimensions", fmt.Sprintf("%dx%d", v.width, v.height))
	return v, nil
}

func (v *Video) Close() error {
	v.frame.Close()
	v.thumb.Close()
	v.out.Close()
	return v.capture.Close()
}

func (v *Video) Duration() float64 { return v.duration }

func (v *Video) Size() (int, int) { return v.width, v.height }

func (v *Video) Sample(t float64) ([]byte, []byte, error) {
	v.capture.Set(gocv.VideoCapturePosMsec, t*1000)
	if ok := v.capture.Read(&v.frame); !ok || v.frame.Empty() {
		return nil, nil, fmt.Errorf("no frame at %.3fs", t)
	}

	gocv.Resize(v.frame, &v.thumb, image.Point{X: ThumbSize, Y: ThumbSize}, 0, 0, gocv.InterpolationArea)
	thumb := v.thumb.ToBytes()

	outH := outputHeight(v.frame.Cols(), v.frame.Rows())
	gocv.Resize(v.frame, &v.out, image.Point{X: OutputWidth, Y: outH}, 0, 0, gocv.InterpolationArea)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, v.out, []int{int(gocv.IMWriteJpegQuality), JPEGQuality})
	if err != nil {
		return nil, nil, fmt.Errorf("encode frame at %.3fs: %w", t, err)
	}
	defer buf.Close()
	jpg := make([]byte, len(buf.GetBytes()))
	copy(jpg, buf.GetBytes())
	return thumb, jpg, nil
}

// outputHeight scales h to OutputWidth, rounded to the nearest row.
func outputHeight(w, h int) int {
	if w <= 0 {
		return max(1, h)
	}
	return max(1, int(math.Round(float64(h)*OutputWidth/float64(w))))
}

// ExtractKeyframes opens path, selects frames and closes the capture.
func ExtractKeyframes(path string, picks, candidates int) ([]Frame, error) {
	video, err := OpenVideo(path)
	if err != nil {
		return nil, err
	}
	defer video.Close()

	frames, err := SelectFrames(video, picks, candidates)
	if err != nil {
		return nil, fmt.Errorf("select frames from %s: %w", path, err)
	}
	return frames, nil
}

// WriteFrames stores frames as frame_NN.jpg under dir and returns the paths.
func WriteFrames(dir string, frames []Frame) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(frames))
	for i, f := range frames {
		p := filepath.Join(dir, fmt.Sprintf("frame_%02d.jpg", i+1))
		if err := os.WriteFile(p, f.JPEG, 0644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
