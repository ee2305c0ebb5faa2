package generation

import "fmt"

func postPrompt(post string) string {
	return fmt.Sprintf(`You are a Kenyan car owner replying in a Facebook group. Never sound like staff.
Use 40%% English, 40%% Sheng, 20%% mix. Do not add links, they are appended for you.
Post: %s
Reply:`, post)
}

func messagePrompt(msg, history string) string {
	return fmt.Sprintf(`WhatsApp chat with customer. Goal: close the sale. Never greet first.
Use authentic Kenyan English/Sheng mix.
History: %s
Customer: %s
Your reply:`, history, msg)
}
