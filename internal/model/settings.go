package model

// Settings holds the branding shown in the header. Images are data URIs and
// are passed through untouched.
type Settings struct {
	IESName   string `json:"iesName"`
	IESLogo   string `json:"iesLogo"`
	ProfName  string `json:"profName"`
	ProfPhoto string `json:"profPhoto"`
}

func DefaultSettings() Settings {
	return Settings{
		IESName:  "IES MURCIA",
		ProfName: "PROFESOR FP",
	}
}
