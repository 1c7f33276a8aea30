package salesflow

import (
	"fmt"
	"strings"

	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

const (
	msgWelcome = "🌟 *Bem-vindo à TIM!*\n\n" +
		"Que ótimo ter você aqui! Vamos verificar se temos cobertura na sua região e encontrar o plano perfeito para você! 🚀\n\n" +
		"*Para começar, me informe seu CEP:*\n" +
		"_(apenas números, exemplo: 01310100)_"

	msgInvalidCEP    = "❌ CEP inválido. Por favor, digite um CEP com 8 números.\n\n*Exemplo:* 01310100"
	msgInvalidNumber = "❌ Número inválido. Por favor, digite o número do endereço."
	msgViabilityDown = "⚠️ Não consegui verificar a cobertura agora.\n\nPor favor, digite novamente o *número* do seu endereço para tentar outra vez."
	msgInvalidPlan   = "❌ Opção inválida. Por favor, digite o número do plano (1, 2, 3, etc.)"

	msgComplement = "*Por favor, informe o complemento (se houver):*\n" +
		"_(Ex: Apto 101, Bloco A, Casa 2, ou digite \"sem complemento\")_"

	msgPersonalData = "📝 *Dados Pessoais*\n\n" +
		"Agora preciso dos seus dados para finalizar a contratação.\n\n" +
		"*Por favor, me informe seu NOME COMPLETO:*"
	msgCorrection = "Entendido! Vamos corrigir seus dados.\n\n" + msgPersonalData

	msgInvalidName  = "❌ Nome inválido. Por favor, me informe seu *NOME COMPLETO:*"
	msgAskCPF       = "Agora, informe seu *CPF:*\n_(apenas números)_"
	msgInvalidCPF   = "❌ CPF inválido. Digite os 11 dígitos do seu CPF."
	msgAskBirth     = "Agora, informe sua *DATA DE NASCIMENTO:*\n_(formato: DD/MM/AAAA)_"
	msgInvalidBirth = "❌ Data inválida. Por favor, use o formato DD/MM/AAAA\n*Exemplo:* 15/03/1990"
	msgAskEmail     = "Informe seu *E-MAIL:*"
	msgInvalidEmail = "❌ E-mail inválido. Por favor, digite um e-mail válido."

	msgGeolocation = "📍 *Geolocalização*\n\n" +
		"Para garantir a instalação no local correto, você pode compartilhar sua localização comigo?\n\n" +
		"*Envie sua localização pelo WhatsApp:* 👇\n\n" +
		"_(Ou digite \"pular\" se preferir não compartilhar)_"

	msgInvalidReview = "❌ Opção inválida. Digite 1 para confirmar ou 2 para corrigir."

	msgAuthorizationNeeded = "Para prosseguir, preciso da sua autorização expressa.\n\n" +
		"Por favor, responda com *\"Sim, autorizo\"* para finalizar a contratação. 📝"

	noStreet = "Rua não identificada"
	notSet   = "N/A"
)

func cepAccepted(cep string) string {
	return fmt.Sprintf("✅ CEP registrado: *%s*\n\nAgora, me informe o *número* do seu endereço:\n_(apenas o número, exemplo: 123)_", cep)
}

func notViable(v domain.Viability) string {
	return fmt.Sprintf("😔 %s\n\nMas deixe seu contato conosco! Assim que tivermos cobertura na sua região, entraremos em contato! 📞", v.Message)
}

func planList(plans []domain.Plan) string {
	items := make([]string, len(plans))
	for i, p := range plans {
		items[i] = fmt.Sprintf("*%d.* %s\n   💰 R$ %s/mês\n   📌 %s", i+1, p.Name, price(p.Price), p.Description)
	}
	return strings.Join(items, "\n\n")
}

func viableOffer(lead *domain.SalesLead) string {
	v := lead.Viability
	return fmt.Sprintf("🎉 *%s*\n\n📍 *Endereço identificado:*\n%s, %s\n%s - %s/%s\n\n💎 *Planos disponíveis para você:*\n\n%s\n\n*Digite o número do plano que deseja:*",
		v.Message, or(lead.Street, noStreet), lead.Number,
		lead.Neighborhood, lead.City, lead.State,
		planList(v.Plans))
}

func planChosen(p domain.Plan) string {
	return fmt.Sprintf("✅ *Plano selecionado:*\n%s - R$ %s/mês\n\nPerfeito! Agora vamos completar seu endereço. 🏠\n\n%s",
		p.Name, price(p.Price), msgComplement)
}

func nameAccepted(name string) string {
	return fmt.Sprintf("✅ Nome registrado: *%s*\n\n%s", name, msgAskCPF)
}

func summary(lead *domain.SalesLead) string {
	var b strings.Builder
	b.WriteString("👤 *Dados Pessoais:*\n")
	fmt.Fprintf(&b, "   Nome: %s\n", or(lead.FullName, notSet))
	fmt.Fprintf(&b, "   CPF: %s\n", or(formatCPF(lead.CPF), notSet))
	birth := notSet
	if lead.BirthDate != nil {
		birth = lead.BirthDate.Format(birthLayout)
	}
	fmt.Fprintf(&b, "   Data Nasc.: %s\n", birth)
	fmt.Fprintf(&b, "   E-mail: %s\n\n", or(lead.Email, notSet))

	b.WriteString("📍 *Endereço:*\n")
	fmt.Fprintf(&b, "   %s, %s\n", or(lead.Street, noStreet), lead.Number)
	if lead.Complement != nil {
		fmt.Fprintf(&b, "   Complemento: %s\n", *lead.Complement)
	}
	fmt.Fprintf(&b, "   %s - %s/%s\n", lead.Neighborhood, lead.City, lead.State)
	fmt.Fprintf(&b, "   CEP: %s", formatCEP(lead.CEP))

	if lead.Plan != nil {
		b.WriteString("\n\n💎 *Plano Selecionado:*\n")
		fmt.Fprintf(&b, "   %s\n", lead.Plan.Name)
		fmt.Fprintf(&b, "   💰 R$ %s/mês", price(lead.Plan.Price))
	}
	return b.String()
}

func review(lead *domain.SalesLead) string {
	return "📋 *RESUMO DOS DADOS*\n\n" + summary(lead) +
		"\n\n*Confirma que todos os dados estão corretos?*\n\nDigite:\n*1* - Sim, está tudo correto! ✅\n*2* - Não, preciso corrigir algo ❌"
}

func authorizationTerm(lead *domain.SalesLead) string {
	planName, planPrice := "", ""
	if lead.Plan != nil {
		planName, planPrice = lead.Plan.Name, price(lead.Plan.Price)
	}
	return fmt.Sprintf("📜 *TERMO DE AUTORIZAÇÃO*\n\n"+
		"Eu, *%s*, portador do CPF *%s*,\n\n"+
		"✅ AUTORIZO a contratação do plano:\n*%s*\nValor mensal: R$ %s\n\n"+
		"✅ CONFIRMO que os dados fornecidos estão corretos\n\n"+
		"✅ ACEITO os termos e condições do serviço\n\n"+
		"✅ AUTORIZO a instalação no endereço informado\n\n"+
		"🔐 *Para finalizar, digite:*\n\"Sim, autorizo a contratação\"",
		lead.FullName, formatCPF(lead.CPF), planName, planPrice)
}

func thankYou(lead *domain.SalesLead) string {
	planName := ""
	if lead.Plan != nil {
		planName = lead.Plan.Name
	}
	return fmt.Sprintf("🎉 *PARABÉNS! CONTRATAÇÃO REALIZADA COM SUCESSO!* 🎉\n\n"+
		"%s, sua contratação foi finalizada!\n\n"+
		"📋 *Próximos Passos:*\n\n"+
		"1️⃣ Você receberá um e-mail de confirmação em %s\n\n"+
		"2️⃣ Nossa equipe entrará em contato em até 24h para agendar a instalação\n\n"+
		"3️⃣ A instalação será realizada em até 5 dias úteis\n\n"+
		"💳 *Forma de Pagamento:*\nA primeira fatura chegará após a ativação do serviço\n\n"+
		"🎁 *Benefícios do seu plano:*\n   • %s\n   • Instalação grátis\n   • 30 dias de garantia de satisfação\n\n"+
		"*Obrigado por escolher a TIM!* 🚀",
		lead.FullName, lead.Email, planName)
}

func price(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// formatCPF renders 11 digits as 000.000.000-00.
func formatCPF(cpf string) string {
	if len(cpf) != 11 {
		return cpf
	}
	return cpf[:3] + "." + cpf[3:6] + "." + cpf[6:9] + "-" + cpf[9:]
}

// formatCEP renders 8 digits as 00000-000.
func formatCEP(cep string) string {
	if len(cep) != 8 {
		return cep
	}
	return cep[:5] + "-" + cep[5:]
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
