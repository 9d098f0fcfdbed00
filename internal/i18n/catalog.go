package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys. English text is the key itself.
const (
	MsgAlreadySetup      = "The appliance is already set up"
	MsgInvalidRequest    = "Invalid request: %s"
	MsgInternalError     = "Internal server error"
	MsgNotFound          = "Not found"
	MsgSetupAccepted     = "Settings saved for %s"
	MsgStatusLine        = "Status: %s"
	MsgDomainLine        = "Domain: %s"
	MsgServerUnreachable = "Cannot reach %s: %v"
	MsgTooManyRequests   = "Too many requests, try again later"
)

func init() {
	for key, text := range map[string]string{
		MsgAlreadySetup:      "Das Gerät ist bereits eingerichtet",
		MsgInvalidRequest:    "Ungültige Anfrage: %s",
		MsgInternalError:     "Interner Serverfehler",
		MsgNotFound:          "Nicht gefunden",
		MsgSetupAccepted:     "Einstellungen für %s gespeichert",
		MsgStatusLine:        "Status: %s",
		MsgDomainLine:        "Domäne: %s",
		MsgServerUnreachable: "%s ist nicht erreichbar: %v",
		MsgTooManyRequests:   "Zu viele Anfragen, bitte später erneut versuchen",
	} {
		if err := message.SetString(language.German, key, text); err != nil {
			panic("i18n: " + err.Error())
		}
	}
}
