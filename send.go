package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"node.town/hark/frame"
	"node.town/hark/snd"
)

var sendCmd = &cobra.Command{
	Use:   "send FILE",
	Short: "Stream a raw PCM16 file to a running server",
	Long: `Stream a little-endian 16-bit mono PCM file to the server as audio
frames, paced in real time. Use --wav to skip a canonical 44-byte header.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	flags := sendCmd.Flags()
	flags.String("url", "ws://localhost:8001/", "server websocket URL")
	flags.Uint32("rate", frame.DefaultSampleRate, "sample rate of the file")
	flags.Duration("chunk", 100*time.Millisecond, "audio per frame")
	flags.Bool("wav", false, "skip a 44-byte WAV header")
}

func runSend(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	url, _ := flags.GetString("url")
	rate, _ := flags.GetUint32("rate")
	chunk, _ := flags.GetDuration("chunk")
	wav, _ := flags.GetBool("wav")

	pcm, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if wav {
		if len(pcm) < snd.WAVHeaderSize {
			return fmt.Errorf("%s: shorter than a WAV header", args[0])
		}
		pcm = pcm[snd.WAVHeaderSize:]
	}

	frames, err := audioFrames(pcm, rate, chunk)
	if err != nil {
		return err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer ws.Close()

	if err := sendPaced(cmd.Context(), ws, frames, chunk); err != nil {
		return err
	}

	return ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

// audioFrames splits pcm into encoded frames each holding chunk worth of
// samples at rate. The last frame may be shorter.
func audioFrames(pcm []byte, rate uint32, chunk time.Duration) ([][]byte, error) {
	if rate == 0 {
		return nil, fmt.Errorf("rate must be positive")
	}
	size := int(int64(rate)*int64(chunk)/int64(time.Second)) * 2
	if size <= 0 {
		return nil, fmt.Errorf("chunk %s holds no samples at %d Hz", chunk, rate)
	}

	var frames [][]byte
	for start := 0; start < len(pcm); start += size {
		end := min(start+size, len(pcm))
		msg, err := frame.Encode(rate, pcm[start:end])
		if err != nil {
			return nil, err
		}
		frames = append(frames, msg)
	}
	return frames, nil
}

func sendPaced(ctx context.Context, ws *websocket.Conn, frames [][]byte, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for i, msg := range frames {
		if err := ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return fmt.Errorf("send frame %d: %w", i, err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
