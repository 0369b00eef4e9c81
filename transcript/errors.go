package transcript

import "errors"

// ErrUnsupported is reported when the platform has no speech capture
// engine; the caller must fall back to typed input.
var ErrUnsupported = errors.New("transcript: speech capture unsupported")

// UnsupportedMessage is shown once when recording controls are disabled.
const UnsupportedMessage = "当前浏览器不支持语音识别，请使用键盘输入。"

// ErrorKind classifies recognition failures reported by the capture engine.
type ErrorKind string

const (
	KindPermissionDenied   ErrorKind = "permission-denied"
	KindNoMicrophone       ErrorKind = "no-microphone"
	KindNoSpeech           ErrorKind = "no-speech"
	KindAborted            ErrorKind = "aborted"
	KindNetwork            ErrorKind = "network"
	KindServiceUnavailable ErrorKind = "service-unavailable"
	KindUnsupported        ErrorKind = "unsupported"
	KindOther              ErrorKind = "other"
)

// Classify maps a capture engine error code to an ErrorKind. Codes follow
// the browser speech recognition error names.
func Classify(code string) ErrorKind {
	switch code {
	case "not-allowed", "permission-denied":
		return KindPermissionDenied
	case "audio-capture":
		return KindNoMicrophone
	case "no-speech":
		return KindNoSpeech
	case "aborted":
		return KindAborted
	case "network":
		return KindNetwork
	case "service-not-allowed":
		return KindServiceUnavailable
	default:
		return KindOther
	}
}

// Suppressed reports whether the kind ends capture silently instead of
// surfacing a message. Silence is not an error to the user, and an abort
// is what a manual stop looks like to the capture engine.
func Suppressed(kind ErrorKind) bool {
	return kind == KindNoSpeech || kind == KindAborted
}

// Describe returns the user-facing message for a recognition failure, or an
// empty string for suppressed kinds.
func Describe(kind ErrorKind) string {
	switch kind {
	case KindPermissionDenied:
		return "麦克风权限被拒绝。请在浏览器设置中允许访问麦克风后重试。"
	case KindNoMicrophone:
		return "未检测到麦克风，请确认设备已连接。"
	case KindNetwork:
		return "网络错误，语音识别已中断。请检查网络后重试。"
	case KindServiceUnavailable:
		return "语音识别服务暂时不可用，请稍后再试。"
	case KindNoSpeech, KindAborted:
		return ""
	default:
		return "语音识别出现问题，请重试。"
	}
}
