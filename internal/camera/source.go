package camera

import (
	"errors"
	"fmt"
	"strconv"

	gocv "gocv.io/x/gocv"
)

// ErrCaptureUnavailable meldet, dass die Kamera kein Frame liefern konnte
var ErrCaptureUnavailable = errors.New("capture unavailable")

// FrameSource abstrahiert eine Videoquelle. Read liefert ein JPEG-kodiertes
// Frame; nach einem Fehler muss die Quelle geschlossen und neu geöffnet
// werden.
type FrameSource interface {
	Open() error
	Read() ([]byte, error)
	Close() error
}

// SourceFactory erstellt eine FrameSource für eine Kamera-URI. Der Manager
// nutzt die Factory, damit Tests ohne echte Kamera auskommen.
type SourceFactory func(uri string) FrameSource

// NewGoCVSource ist die Standard-Factory auf Basis von OpenCV
func NewGoCVSource(uri string) FrameSource {
	return &gocvSource{uri: uri}
}

// gocvSource liest Frames über gocv. Die URI ist entweder ein numerischer
// Geräteindex oder eine RTSP/HTTP-URL.
type gocvSource struct {
	uri     string
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

func (s *gocvSource) Open() error {
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if index, convErr := strconv.Atoi(s.uri); convErr == nil {
		capture, err = gocv.OpenVideoCapture(index)
	} else {
		capture, err = gocv.OpenVideoCapture(s.uri)
	}
	if err != nil {
		return fmt.Errorf("failed to open video source %s: %w", s.uri, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("video source %s is not opened: %w", s.uri, ErrCaptureUnavailable)
	}

	s.capture = capture
	s.mat = gocv.NewMat()
	return nil
}

func (s *gocvSource) Read() ([]byte, error) {
	if s.capture == nil {
		return nil, ErrCaptureUnavailable
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, ErrCaptureUnavailable
	}

	encoded, err := gocv.IMEncode(".jpg", s.mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer encoded.Close()

	frame := make([]byte, len(encoded.GetBytes()))
	copy(frame, encoded.GetBytes())
	return frame, nil
}

func (s *gocvSource) Close() error {
	var err error
	if s.capture != nil {
		err = s.capture.Close()
		s.capture = nil
		s.mat.Close()
	}
	return err
}
