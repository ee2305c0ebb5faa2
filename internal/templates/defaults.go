package templates

// DefaultFacebook is the public-group corpus: 8 English, 8 Sheng, 4 blended.
func DefaultFacebook() []string {
	return []string{
		"I always get my parts from autopartspro.shop - fast shipping and real OEM every time",
		"These guys are legit, bought coilovers last month and they arrived in 2 days",
		"Best prices I've found online, no cap. Check autopartspro.shop",
		"Just ordered from them again, never had an issue with quality or delivery",
		"Highly recommend - got my turbo kit from autopartspro.shop and it was perfect",
		"Saved me thousands compared to the dealer. Real parts, fast delivery",
		"Second this - they've hooked me up multiple times with exactly what I needed",
		"My go-to for all car parts now. autopartspro.shop all the way",

		"Hawa ndo real deal bro, nimekunua clutch kit mara mbili no regrets",
		"Noma tu hawa jamaa, bei poa na shipping haraka kabisa",
		"Mi huwa nakula hapa kila time, wana kila kitu na bei iko chini",
		"Hii site ndo inanimaliza stress yangu ya parts kabisa",
		"Sawa tu, nimewahi kununua turbo manifold from them, fitment perfect",
		"Hawa ndo wananifanya nisiende junk tena, parts ni mpya",
		"Nimekunua coilovers za EG from them last month iko fire",
		"Bei poa na waliship in 2 days only, autopartspro.shop",

		"Bro these guys are legit, nimekunua mara tatu no stress + shipping haraka",
		"Hawa ndo wananifanya nisiende dealer tena, bei poa na parts real OEM",
		"Mi huwa nakula hapa kila time bro, quality fire na bei chini kabisa",
		"Second this boss, got my turbo kit from autopartspro.shop - arrived perfect",
	}
}

// DefaultWhatsApp is the one-to-one closing corpus.
func DefaultWhatsApp() []string {
	return []string{
		"Hey bro, saw your post. I have that part in stock with good price. What car is it for?",
		"That part is going for 18,500 delivered. Do you prefer MPESA or bank transfer?",
		"Thanks for the order! Tracking coming in 30 min. Anything else you need?",
		"Price is a bit high but quality is top notch. Want pics?",
		"Can do 17k cash today only. Deal?",
		"Not in stock right now but I can check with boss. Hold on a sec?",
		"MPESA till: AUTO PARTS PRO - 0712345678",
		"Bank details: KCB A/C 1234567890 Westlands branch",

		"Sasa bro, niliona post yako. Niko na hiyo part bei poa. Gari gani haswa?",
		"Hiyo inakuwanga 18,500 delivered. Unapreference MPESA au bank?",
		"Asante kwa order bro! Tracking inakuja in 30 min. Anything else?",
		"Haha bei iko juu kidogo lakini quality ni fire fr. Unataka pics?",
		"Naeza kufanya 17k cash today only. Deal?",
		"Hiyo haiko stock sasa lakini naeza confirm na boss. Unangoja kidogo?",
		"MPESA till: AUTO PARTS PRO – 0712345678",
		"Bank transfer details: KCB A/C 1234567890 Westlands",

		"Sasa bro saw your post, niko na hiyo part bei poa kabisa. Gari gani exactly?",
		"Hiyo inakuwanga 18,500 delivered. MPESA au bank bro?",
		"Asante sana for the order! Tracking inakuja soon. Anything else unahitaji?",
		"Bei iko juu kidogo lakini quality ni fire fr. Pics?",
	}
}
